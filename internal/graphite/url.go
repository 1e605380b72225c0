// Package graphite builds Graphite render URLs and fetches graph data for
// host/service metrics.
package graphite

import (
	"net/url"
	"strconv"
	"strings"
)

// Default render size, in pixels.
const (
	DefaultWidth  = 586
	DefaultHeight = 308
)

// Compliant makes s safe to use as one Graphite path node. Characters
// outside [A-Za-z0-9_-] become '_'.
func Compliant(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Target returns the Graphite target for a metric, optionally under prefix.
func Target(prefix, host, service, metric string) string {
	nodes := make([]string, 0, 4)
	if prefix != "" {
		nodes = append(nodes, strings.Trim(prefix, "."))
	}
	nodes = append(nodes, Compliant(host), Compliant(service), Compliant(metric))
	return strings.Join(nodes, ".")
}

// BuildURL returns the PNG render URL for one metric of a service. The
// result starts with base and carries the raw names in its title.
func BuildURL(base, host, service, metric, from string) string {
	return renderURL(base, Target("", host, service, metric), host, service, metric, from, DefaultWidth, DefaultHeight)
}

func renderURL(base, target, host, service, metric, from string, width, height int) string {
	v := url.Values{}
	v.Set("target", target)
	v.Set("from", from)
	v.Set("width", strconv.Itoa(width))
	v.Set("height", strconv.Itoa(height))
	v.Set("lineMode", "connected")
	v.Set("title", host+" - "+service+" - "+metric)
	return renderEndpoint(base) + "?" + v.Encode()
}

func renderEndpoint(base string) string {
	return strings.TrimRight(base, "/") + "/render"
}
