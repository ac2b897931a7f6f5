// Package chart rasterizes the trade scatter + trend-line image served by
// the API.
package chart

import (
	"bytes"
	"fmt"

	wchart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"dankstats/internal/analytics"
)

const (
	defaultWidth  = 700
	defaultHeight = 400
)

var (
	sellDotColor   = drawing.Color{R: 0x93, G: 0xff, B: 0x7d, A: 0x70}
	buyDotColor    = drawing.Color{R: 0xff, G: 0x57, B: 0x36, A: 0x70}
	sellTrendColor = drawing.Color{R: 0xd5, G: 0xff, B: 0xcc, A: 0xff}
	buyTrendColor  = drawing.Color{R: 0xff, G: 0xca, B: 0xbf, A: 0xff}
	labelColor     = drawing.Color{R: 0xee, G: 0xee, B: 0xee, A: 0xff}
	gridColor      = drawing.Color{R: 0xff, G: 0xff, B: 0xff, A: 0x1a}
)

// Tick labels one x position (a trade index) with a date.
type Tick struct {
	Index int
	Label string
}

// Input is everything needed to draw one chart. Point X values are trade
// indices within the fetched window, ascending in time.
type Input struct {
	Sells     []analytics.Point
	Buys      []analytics.Point
	SellTrend []analytics.Point
	BuyTrend  []analytics.Point
	Ticks     []Tick
	MaxIndex  int
	Width     int
	Height    int
}

// RenderPNG draws the scatter + trend chart and returns the PNG bytes.
// At least one point across both sides is required.
func RenderPNG(in Input) ([]byte, error) {
	if len(in.Sells)+len(in.Buys) == 0 {
		return nil, fmt.Errorf("no points to render")
	}
	if in.Width <= 0 {
		in.Width = defaultWidth
	}
	if in.Height <= 0 {
		in.Height = defaultHeight
	}

	var series []wchart.Series
	if len(in.SellTrend) > 1 {
		series = append(series, lineSeries("sell trend", in.SellTrend, sellTrendColor))
	}
	if len(in.BuyTrend) > 1 {
		series = append(series, lineSeries("buy trend", in.BuyTrend, buyTrendColor))
	}
	if len(in.Sells) > 0 {
		series = append(series, scatterSeries("sell trades", in.Sells, sellDotColor))
	}
	if len(in.Buys) > 0 {
		series = append(series, scatterSeries("buy trades", in.Buys, buyDotColor))
	}

	ticks := make([]wchart.Tick, 0, len(in.Ticks))
	for _, t := range in.Ticks {
		ticks = append(ticks, wchart.Tick{Value: float64(t.Index), Label: t.Label})
	}

	xMax := float64(in.MaxIndex)
	if xMax <= 0 {
		// A degenerate x range cannot be drawn; give single-point charts
		// some room.
		xMax = 1
	}

	graph := wchart.Chart{
		Width:      in.Width,
		Height:     in.Height,
		Background: wchart.Style{FillColor: drawing.ColorTransparent},
		Canvas:     wchart.Style{FillColor: drawing.ColorTransparent},
		XAxis: wchart.XAxis{
			Style:     wchart.Style{FontColor: labelColor},
			Ticks:     ticks,
			Range:     &wchart.ContinuousRange{Min: 0, Max: xMax},
			GridMajorStyle: wchart.Style{
				Hidden: true,
			},
		},
		YAxis: wchart.YAxis{
			Style: wchart.Style{FontColor: labelColor},
			GridMajorStyle: wchart.Style{
				StrokeColor: gridColor,
				StrokeWidth: 1,
			},
		},
		Series: series,
	}

	// A flat price series gives a zero-height y range, which the renderer
	// rejects. Widen it by one on each side.
	if yMin, yMax := yBounds(in); yMin == yMax {
		graph.YAxis.Range = &wchart.ContinuousRange{Min: float64(yMin) - 1, Max: float64(yMax) + 1}
	}

	var buf bytes.Buffer
	if err := graph.Render(wchart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

func lineSeries(name string, points []analytics.Point, color drawing.Color) wchart.Series {
	xs, ys := split(points)
	return wchart.ContinuousSeries{
		Name:    name,
		XValues: xs,
		YValues: ys,
		Style: wchart.Style{
			StrokeColor: color,
			StrokeWidth: 5,
		},
	}
}

func scatterSeries(name string, points []analytics.Point, color drawing.Color) wchart.Series {
	xs, ys := split(points)
	return wchart.ContinuousSeries{
		Name:    name,
		XValues: xs,
		YValues: ys,
		Style: wchart.Style{
			StrokeWidth: wchart.Disabled,
			DotWidth:    3,
			DotColor:    color,
		},
	}
}

func yBounds(in Input) (int64, int64) {
	first := true
	var min, max int64
	for _, series := range [][]analytics.Point{in.Sells, in.Buys, in.SellTrend, in.BuyTrend} {
		for _, p := range series {
			if first || p.Y < min {
				min = p.Y
			}
			if first || p.Y > max {
				max = p.Y
			}
			first = false
		}
	}
	return min, max
}

func split(points []analytics.Point) ([]float64, []float64) {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = float64(p.X)
		ys[i] = float64(p.Y)
	}
	return xs, ys
}
