package render

import (
	"math"
	"strconv"
	"strings"
)

const (
	SparklineLimit  = 10
	SparklineWidth  = 100
	SparklineHeight = 20
	SparklineMargin = 5
)

// Point is a sparkline vertex in SVG user units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sparkline is a small trend line over the latest closes.
type Sparkline struct {
	Data   []float64 `json:"data"`
	Color  string    `json:"color"`
	Points []Point   `json:"points"`
}

// NewSparkline keeps the last SparklineLimit values and lays them out.
func NewSparkline(closes []float64, color string) *Sparkline {
	data := closes
	if len(data) > SparklineLimit {
		data = data[len(data)-SparklineLimit:]
	}
	data = append([]float64(nil), data...)
	return &Sparkline{Data: data, Color: color, Points: layout(data)}
}

// layout scales values into the drawing box: the first point sits on the
// left margin, slots are spaced for SparklineLimit points, the highest value
// touches the top margin. A flat series is drawn one unit below the top.
func layout(data []float64) []Point {
	if len(data) == 0 {
		return nil
	}
	lo, hi := data[0], data[0]
	for _, v := range data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	span := hi - lo
	if span == 0 {
		span = 2
	}
	vfactor := float64(SparklineHeight-2*SparklineMargin) / span

	slots := SparklineLimit
	if len(data) > 1 {
		slots--
	}
	hfactor := float64(SparklineWidth-2*SparklineMargin) / float64(slots)

	points := make([]Point, len(data))
	for i, v := range data {
		dy := hi - v
		if hi == lo {
			dy = 1
		}
		points[i] = Point{
			X: float64(i)*hfactor + SparklineMargin,
			Y: dy*vfactor + SparklineMargin,
		}
	}
	return points
}

// SVG renders the sparkline as an inline SVG element.
func (s *Sparkline) SVG() string {
	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="`)
	b.WriteString(strconv.Itoa(SparklineWidth))
	b.WriteString(`" height="`)
	b.WriteString(strconv.Itoa(SparklineHeight))
	b.WriteString(`" viewBox="0 0 `)
	b.WriteString(strconv.Itoa(SparklineWidth))
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(SparklineHeight))
	b.WriteString(`" preserveAspectRatio="none">`)

	if len(s.Points) > 0 {
		line := pointList(s.Points)
		last := s.Points[len(s.Points)-1]
		first := s.Points[0]
		bottom := formatCoord(float64(SparklineHeight))

		b.WriteString(`<polyline points="`)
		b.WriteString(line)
		b.WriteString(" ")
		b.WriteString(formatCoord(last.X) + "," + bottom + " " + formatCoord(first.X) + "," + bottom)
		b.WriteString(`" fill="`)
		b.WriteString(s.Color)
		b.WriteString(`" fill-opacity="0.1" stroke="none"/>`)

		b.WriteString(`<polyline points="`)
		b.WriteString(line)
		b.WriteString(`" fill="none" stroke="`)
		b.WriteString(s.Color)
		b.WriteString(`" stroke-width="1" stroke-linejoin="round" stroke-linecap="round"/>`)
	}

	b.WriteString(`</svg>`)
	return b.String()
}

func pointList(points []Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = formatCoord(p.X) + "," + formatCoord(p.Y)
	}
	return strings.Join(parts, " ")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
