package status

import (
	"math"
	"time"

	"github.com/gopxl/beep"
)

// Note is one tone of a tune. A zero Freq is a rest.
type Note struct {
	Freq   float64
	Length time.Duration
}

type Tune []Note

func (t Tune) Length() time.Duration {
	var d time.Duration
	for _, n := range t {
		d += n.Length
	}
	return d
}

var (
	tuneStartup = Tune{{523, 120 * time.Millisecond}, {659, 120 * time.Millisecond}, {784, 200 * time.Millisecond}}
	tuneArm     = Tune{{440, 120 * time.Millisecond}, {660, 120 * time.Millisecond}, {880, 120 * time.Millisecond}}
	tuneDisarm  = Tune{{880, 120 * time.Millisecond}, {660, 120 * time.Millisecond}, {440, 120 * time.Millisecond}}
	tuneWarning = Tune{{660, 80 * time.Millisecond}, {0, 80 * time.Millisecond}, {660, 80 * time.Millisecond}}
	tuneAlarm   = Tune{
		{1000, 100 * time.Millisecond}, {0, 100 * time.Millisecond},
		{1000, 100 * time.Millisecond}, {0, 100 * time.Millisecond},
		{1000, 100 * time.Millisecond},
	}
)

// TuneFor returns the tune announcing a change of pattern from prev to
// next, or nil when nothing a listener cares about changed.
func TuneFor(prev, next Pattern) Tune {
	switch {
	case prev.Colour == next.Colour && prev.Blink == next.Blink:
		return nil
	case next.Colour == ColourRed && next.Blink == BlinkFast:
		return tuneAlarm
	case next.Blink == BlinkDouble:
		return tuneWarning
	case prev.Colour == next.Colour && next.Blink == BlinkSolid:
		return tuneArm
	case prev.Colour == next.Colour && prev.Blink == BlinkSolid:
		return tuneDisarm
	}
	// A mode change: one beep, pitched by the mode colour.
	return Tune{{400 + 100*float64(next.Colour), 150 * time.Millisecond}}
}

// Streamer renders t as a sine tone sequence at sr.
func (t Tune) Streamer(sr beep.SampleRate) beep.Streamer {
	parts := make([]beep.Streamer, 0, len(t))
	for _, n := range t {
		parts = append(parts, tone(sr, n.Freq, n.Length))
	}
	return beep.Seq(parts...)
}

func tone(sr beep.SampleRate, freq float64, d time.Duration) beep.Streamer {
	n := sr.N(d)
	if freq <= 0 {
		return beep.Silence(n)
	}
	step := 2 * math.Pi * freq / float64(sr)
	i := 0
	return beep.Take(n, beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for k := range samples {
			v := 0.3 * math.Sin(step*float64(i))
			samples[k] = [2]float64{v, v}
			i++
		}
		return len(samples), true
	}))
}

// Buzzer plays a tune whenever the indicated pattern changes.
type Buzzer struct {
	sr   beep.SampleRate
	play func(beep.Streamer)
	last Pattern
	seen bool
}

// NewBuzzer plays through play, usually speaker.Play.
func NewBuzzer(sr beep.SampleRate, play func(beep.Streamer)) *Buzzer {
	return &Buzzer{sr: sr, play: play}
}

// Show takes the latest pattern and returns the tune it started, if any.
func (b *Buzzer) Show(p Pattern) Tune {
	t := tuneStartup
	if b.seen {
		t = TuneFor(b.last, p)
	}
	b.last, b.seen = p, true
	if t != nil {
		b.play(t.Streamer(b.sr))
	}
	return t
}
