package control

import (
	"math"
	"time"

	"github.com/openacid/slimarray/polyfit"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/param"
)

// HoverEstimator learns the collective thrust that holds altitude from
// (thrust, vertical acceleration) pairs recorded in flight.
type HoverEstimator struct {
	conf param.Control

	thrust []float64
	accel  []float64
	next   int

	hover float64
	valid bool
	last  time.Time
}

func NewHoverEstimator(conf param.Control) *HoverEstimator {
	return &HoverEstimator{conf: conf, hover: conf.HoverThrust}
}

func (h *HoverEstimator) SetParams(conf param.Control) {
	h.conf = conf
	if len(h.thrust) > conf.HoverWindow {
		h.Reset()
	}
}

// Reset forgets the samples but keeps the current estimate.
func (h *HoverEstimator) Reset() {
	h.thrust, h.accel, h.next = nil, nil, 0
}

// Add records one sample. up is the upward acceleration with gravity
// removed, in m/s². Only call it while airborne.
func (h *HoverEstimator) Add(thrust, up float64) {
	if !finiteAll(thrust, up) {
		return
	}
	if len(h.thrust) < h.conf.HoverWindow {
		h.thrust = append(h.thrust, thrust)
		h.accel = append(h.accel, up)
		return
	}
	h.thrust[h.next] = thrust
	h.accel[h.next] = up
	h.next = (h.next + 1) % len(h.thrust)
}

// Update refits and moves the estimate towards the fit, no faster than
// HoverMaxRate per second.
func (h *HoverEstimator) Update(now time.Time) HoverEstimate {
	dt := 0.0
	if !h.last.IsZero() {
		dt = now.Sub(h.last).Seconds()
	}
	h.last = now
	if target, ok := h.fit(); ok {
		step := h.conf.HoverMaxRate * dt
		h.hover += Clamp(target-h.hover, -step, step)
		h.hover = Clamp(h.hover, h.conf.HoverMin, h.conf.HoverMax)
		h.valid = true
	}
	return HoverEstimate{Time: now, Thrust: h.hover, Valid: h.valid}
}

func (h *HoverEstimator) fit() (float64, bool) {
	n := len(h.thrust)
	if n < h.conf.HoverWindow/2 || n < 2 {
		return 0, false
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, t := range h.thrust {
		lo, hi = math.Min(lo, t), math.Max(hi, t)
	}
	if hi-lo >= h.conf.HoverMinSpread {
		// up = c0 + c1*thrust, zero at hover.
		c := polyfit.NewFit(h.thrust, h.accel, 1).Solve()
		if len(c) == 2 && c[1] > 0 {
			return -c[0] / c[1], true
		}
	}
	// Too little excitation for a slope: assume thrust proportional to
	// specific force.
	sum := 0.0
	for i, t := range h.thrust {
		sum += t * Gravity / math.Max(Gravity+h.accel[i], 0.1*Gravity)
	}
	return sum / float64(n), true
}

func finiteAll(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
