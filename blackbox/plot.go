package blackbox

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	. "nyiyui.ca/hato/fmu"
)

var ErrNoData = errors.New("not enough state records to plot")

// Plot renders altitude and flight mode over time as a PNG.
func Plot(recs []Record, w io.Writer) error {
	states := Filter(recs, "state")
	if len(states) < 2 {
		return ErrNoData
	}
	sort.SliceStable(states, func(i, j int) bool { return states[i].Time.Before(states[j].Time) })
	start := states[0].Time
	end := states[len(states)-1].Time
	if !end.After(start) {
		return ErrNoData
	}

	var xs, alt []float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, rec := range states {
		st, err := Decode[VehicleState](rec)
		if err != nil {
			return err
		}
		a := st.Altitude()
		xs = append(xs, rec.Time.Sub(start).Seconds())
		alt = append(alt, a)
		lo, hi = math.Min(lo, a), math.Max(hi, a)
	}
	// A flat line still needs a range to draw on.
	if hi-lo < 1 {
		mid := (hi + lo) / 2
		lo, hi = mid-0.5, mid+0.5
	}

	modeX, modeY, err := modeSteps(Filter(recs, "mode"), start, end)
	if err != nil {
		return err
	}

	graph := chart.Chart{
		Width:  1200,
		Height: 500,
		XAxis: chart.XAxis{
			Name: "time (s)",
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%.0f", v.(float64))
			},
		},
		YAxis: chart.YAxis{
			Name:  "altitude (m)",
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
		},
		YAxisSecondary: chart.YAxis{
			Name:           "mode",
			Range:          &chart.ContinuousRange{Min: 0, Max: float64(NumModes - 1)},
			ValueFormatter: modeLabel,
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name: "altitude",
				Style: chart.Style{
					StrokeColor: drawing.ColorFromHex("1f77b4"),
					StrokeWidth: 2,
				},
				XValues: xs,
				YValues: alt,
			},
		},
	}
	if len(modeX) > 0 {
		graph.Series = append(graph.Series, chart.ContinuousSeries{
			Name:  "mode",
			YAxis: chart.YAxisSecondary,
			Style: chart.Style{
				StrokeColor: drawing.ColorFromHex("d62728"),
				StrokeWidth: 1,
			},
			XValues: modeX,
			YValues: modeY,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph.Render(chart.PNG, w)
}

// modeLabel names the mode nearest to a secondary axis value.
func modeLabel(v interface{}) string {
	f, ok := v.(float64)
	if !ok {
		return ""
	}
	m := FlightMode(math.Round(f))
	if m < 0 || m >= NumModes {
		return ""
	}
	return m.String()
}

// modeSteps turns mode records into a step line from start to end.
func modeSteps(recs []Record, start, end time.Time) (xs, ys []float64, err error) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Time.Before(recs[j].Time) })
	for _, rec := range recs {
		ms, err := Decode[ModeStatus](rec)
		if err != nil {
			return nil, nil, err
		}
		x := math.Max(0, rec.Time.Sub(start).Seconds())
		y := float64(ms.Mode)
		if n := len(ys); n > 0 {
			if ys[n-1] == y {
				continue
			}
			xs = append(xs, x)
			ys = append(ys, ys[n-1])
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if n := len(ys); n > 0 {
		xs = append(xs, end.Sub(start).Seconds())
		ys = append(ys, ys[n-1])
	}
	return xs, ys, nil
}
