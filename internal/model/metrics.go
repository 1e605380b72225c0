package model

// Datapoint is one Graphite sample. Value is nil when Graphite has no data
// for that interval.
type Datapoint struct {
	Value     *float64 `json:"value"`
	Timestamp int64    `json:"timestamp"`
}

// MetricSeries is one metric of a graph unit.
type MetricSeries struct {
	Name       string      `json:"name"`
	Target     string      `json:"target"`
	URL        string      `json:"url"`
	Datapoints []Datapoint `json:"datapoints,omitempty"`
}

// MetricUnit groups every requested metric for one time range.
type MetricUnit struct {
	Label   string                  `json:"name"`
	ID      string                  `json:"css_id"`
	From    string                  `json:"from"`
	Metrics map[string]MetricSeries `json:"metrics"`
}

// GraphUnit is a requested time range: label, element id and a Graphite
// relative "from" such as "-1d".
type GraphUnit struct {
	Label string
	ID    string
	From  string
}

// MetricNames returns the names of the metrics in the unit.
func (u MetricUnit) MetricNames() []string {
	names := make([]string, 0, len(u.Metrics))
	for name := range u.Metrics {
		names = append(names, name)
	}
	return names
}
