// Package land decides whether a multicopter is on the ground.
//
// Ground contact, maybe-landed and landed are progressively stricter
// conditions, each of which must hold continuously for its own time before
// it is reported. Any condition failing drops the state immediately.
package land

import (
	"math"
	"time"

	"go.uber.org/zap"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/param"
)

// hysteresis reports a condition once it has held for a duration.
type hysteresis struct {
	on    bool
	since time.Time
}

func (h *hysteresis) update(now time.Time, cond bool, hold time.Duration) bool {
	if !cond {
		h.on = false
		return false
	}
	if !h.on {
		h.on = true
		h.since = now
	}
	return now.Sub(h.since) >= hold
}

// Input is what the detector looks at each tick.
type Input struct {
	Now   time.Time
	State VehicleState
	// Thrust is the collective thrust last commanded.
	Thrust float64
	Armed  bool
	Hover  float64
}

type Detector struct {
	conf param.Land
	log  *zap.SugaredLogger

	groundContact hysteresis
	maybeLanded   hysteresis
	landed        hysteresis
	freefall      hysteresis

	state LandState
}

func New(conf param.Land) *Detector {
	return &Detector{
		conf:  conf,
		log:   zap.S().With("task", "land"),
		state: LandLanded,
	}
}

func (d *Detector) SetParams(conf param.Land) { d.conf = conf }

func (d *Detector) State() LandState { return d.state }

func (d *Detector) Update(in Input) LandStatus {
	c := d.conf
	st := in.State
	hover := in.Hover
	if hover <= c.MinThrottle {
		hover = c.MinThrottle + 0.1
	}
	lowThrust := in.Thrust < c.MinThrottle+(hover-c.MinThrottle)*c.LowThrottleFactor
	minimalThrust := in.Thrust <= c.MinThrottle+(hover-c.MinThrottle)*c.LowThrottleFactor/3
	still := math.Abs(st.Velocity.Z) < c.MaxVerticalSpeed &&
		st.Velocity.Horizontal().Norm() < c.MaxHorizontalSpeed
	rotating := st.Rate.Norm() > c.MaxRotation

	specific := st.Accel.Sub(Vec3{Z: Gravity}).Norm()
	freefall := d.freefall.update(in.Now, in.Armed && specific < c.FreefallAccel, c.FreefallTime)

	gc := d.groundContact.update(in.Now, lowThrust && still, c.GroundContactTime)
	maybe := d.maybeLanded.update(in.Now, gc && minimalThrust && !rotating, c.MaybeLandedTime)
	landed := d.landed.update(in.Now, maybe, c.LandedTime)

	next := LandFlying
	switch {
	case !in.Armed || landed:
		next = LandLanded
	case maybe:
		next = LandMaybeLanded
	case gc:
		next = LandGroundContact
	}
	if next != d.state {
		d.log.Infow("land state", "from", d.state, "to", next, "thrust", in.Thrust)
		d.state = next
	}
	return LandStatus{Time: in.Now, State: d.state, Freefall: freefall}
}
