// Package ranking computes "top alert producers" from state change events.
package ranking

import (
	"sort"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/model"
)

// TopProducers counts events per entity (host, or host/service when the
// event names a service) and returns at most limit entities, busiest first.
// Entities with equal counts keep the order in which they first appeared.
func TopProducers(events []model.AlertEvent, limit int) ([]model.RankedProducer, error) {
	return rank(events, limit, false)
}

// TopHosts is TopProducers with service events rolled up into their host.
func TopHosts(events []model.AlertEvent, limit int) ([]model.RankedProducer, error) {
	return rank(events, limit, true)
}

// AlertsOnly drops events that record a return to OK.
func AlertsOnly(events []model.AlertEvent) []model.AlertEvent {
	out := make([]model.AlertEvent, 0, len(events))
	for _, ev := range events {
		if ev.State > 0 {
			out = append(out, ev)
		}
	}
	return out
}

func rank(events []model.AlertEvent, limit int, byHost bool) ([]model.RankedProducer, error) {
	if limit < 0 {
		return nil, apperr.Validation("ranking: limit must not be negative, got %d", limit)
	}
	if limit == 0 {
		return []model.RankedProducer{}, nil
	}

	index := make(map[string]int)
	var producers []model.RankedProducer
	for _, ev := range events {
		p := model.RankedProducer{EntityName: ev.Host, Host: ev.Host}
		if ev.Service != "" && !byHost {
			p.EntityName = ev.Host + "/" + ev.Service
			p.Service = ev.Service
		}
		i, ok := index[p.EntityName]
		if !ok {
			i = len(producers)
			index[p.EntityName] = i
			producers = append(producers, p)
		}
		producers[i].Count++
	}

	sort.SliceStable(producers, func(i, j int) bool {
		return producers[i].Count > producers[j].Count
	})
	if len(producers) > limit {
		producers = producers[:limit]
	}
	if producers == nil {
		producers = []model.RankedProducer{}
	}
	return producers, nil
}
