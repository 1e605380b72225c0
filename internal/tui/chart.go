package tui

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/vigil/internal/model"
)

const (
	chartHeight = 8
	legendWidth = 34
	barWidth    = 3
)

// barPalette cycles through these colours, highest producer first.
var barPalette = []lipgloss.Color{"196", "208", "220", "39", "141", "244"}

// renderProducerChart draws one bar per producer with a ranked legend on the
// right. It returns "" when there is nothing to draw.
func renderProducerChart(producers []model.RankedProducer, width int) string {
	if len(producers) == 0 {
		return ""
	}

	chartWidth := width - legendWidth - 2
	maxBars := chartWidth / (barWidth + 1)
	if maxBars < 1 {
		return renderLegend(producers)
	}
	shown := producers
	if len(shown) > maxBars {
		shown = shown[:maxBars]
	}

	bc := barchart.New(chartWidth, chartHeight,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(barWidth),
		barchart.WithNoAxis(),
	)
	for i, p := range shown {
		c := barPalette[i%len(barPalette)]
		bc.Push(barchart.BarData{
			Label: "",
			Values: []barchart.BarValue{{
				Name:  p.EntityName,
				Value: float64(p.Count),
				Style: lipgloss.NewStyle().Foreground(c).Background(c),
			}},
		})
	}
	bc.Draw()

	chartLines := strings.Split(bc.View(), "\n")
	legendLines := strings.Split(renderLegend(shown), "\n")

	lines := make([]string, 0, chartHeight)
	for i := 0; i < chartHeight; i++ {
		var chartLine, legendLine string
		if i < len(chartLines) {
			chartLine = chartLines[i]
		}
		if i < len(legendLines) {
			legendLine = legendLines[i]
		}
		if w := lipgloss.Width(chartLine); w < chartWidth {
			chartLine += strings.Repeat(" ", chartWidth-w)
		}
		lines = append(lines, chartLine+"  "+legendLine)
	}
	return strings.Join(lines, "\n")
}

// renderLegend lists producers with their bar colour, at most chartHeight lines.
func renderLegend(producers []model.RankedProducer) string {
	var lines []string
	for i, p := range producers {
		if i == chartHeight {
			break
		}
		name := p.EntityName
		if room := legendWidth - 10; len(name) > room {
			name = name[:room-1] + "…"
		}
		style := lipgloss.NewStyle().Foreground(barPalette[i%len(barPalette)])
		lines = append(lines, style.Render(fmt.Sprintf("%-*s %6d", legendWidth-10, name, p.Count)))
	}
	return strings.Join(lines, "\n")
}
