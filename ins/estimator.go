// Package ins estimates attitude, velocity and position from raw sensor samples.
//
// An Estimator has exactly one writer: the task calling Ingest, Correct,
// Predict and Update. Current may be called from any goroutine.
package ins

import (
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/param"
)

type track struct {
	have  bool
	last  time.Time
	latch HealthLatch
}

// Counters reports samples the estimator threw away.
type Counters struct {
	OutOfOrder [NumSensors]uint64
	Invalid    [NumSensors]uint64
	Rejected   [NumSensors]uint64
	Clamped    [NumSensors]uint64
}

type Estimator struct {
	conf param.INS
	log  *zap.SugaredLogger

	att attitudeFilter
	nav *navFilter
	// attVar is a scalar attitude variance in rad².
	attVar float64

	geo     GeoRef
	homeSet bool
	baro    baroRef

	tracks  [NumSensors]track
	rejects [NumSensors]int
	estSev  HealthLatch

	gyro  Vec3
	accel Vec3
	rate  Vec3
	accW  Vec3

	started bool
	boot    time.Time
	t       time.Time

	counters Counters
	cur      atomic.Pointer[VehicleState]
}

const (
	initialPosVar   = 1e4
	initialVelVar   = 1e2
	initialAttVar   = 1.0
	attVarFloor     = 1e-4
	attValidVar     = 0.03
	attVarGrowth    = 1e-3
	attVarStaleRate = 0.05
	// staleNoiseScale inflates translation process noise while the
	// accelerometer cannot be used.
	staleNoiseScale = 10
	maxPredictStep  = 0.1
)

func New(conf param.INS) *Estimator {
	e := &Estimator{
		log:    zap.S().With("task", "ins"),
		att:    attitudeFilter{q: QuatIdentity},
		nav:    newNavFilter(conf.AccelNoise, initialPosVar, initialVelVar),
		attVar: initialAttVar,
	}
	e.SetParams(conf)
	return e
}

// SetParams replaces the configuration. Filter state is kept.
func (e *Estimator) SetParams(conf param.INS) {
	e.conf = conf
	e.nav.accelNoise = conf.AccelNoise
	for i := range e.tracks {
		e.tracks[i].latch.Recovery = conf.RecoveryTime
	}
	e.estSev.Recovery = conf.RecoveryTime
}

func (e *Estimator) timeout(id SensorID) time.Duration {
	t := e.conf.Timeouts
	switch id {
	case SensorGyro:
		return t.Gyro
	case SensorAccel:
		return t.Accel
	case SensorMag:
		return t.Mag
	case SensorBaro:
		return t.Baro
	default:
		return t.GPS
	}
}

// usable reports whether id may contribute to the estimate.
func (e *Estimator) usable(id SensorID) bool {
	return e.tracks[id].have && e.tracks[id].latch.Severity() == SeverityOK
}

// Ingest takes one sample. Inertial samples become the input of the next
// Predict; other samples are applied immediately through Correct.
// Samples older than or equal to the last one from the same sensor are dropped.
func (e *Estimator) Ingest(s RawSample) {
	if s.Sensor < 0 || s.Sensor >= NumSensors {
		return
	}
	tr := &e.tracks[s.Sensor]
	if tr.have && !s.Time.After(tr.last) {
		e.counters.OutOfOrder[s.Sensor]++
		return
	}
	if !e.plausible(s) {
		e.counters.Invalid[s.Sensor]++
		return
	}
	tr.have = true
	tr.last = s.Time

	if !e.att.aligned {
		if s.Sensor == SensorAccel || s.Sensor == SensorMag {
			if e.att.addAlign(s, e.conf.AlignSamples) {
				e.att.align(e.conf.Declination)
				e.attVar = math.Max(attVarFloor, attValidVar/10)
				e.log.Infow("aligned", "attitude", e.att.q)
			}
		}
	}
	switch s.Sensor {
	case SensorGyro:
		e.gyro = s.Value
	case SensorAccel:
		e.accel = s.Value
	default:
		e.Correct(s)
	}
}

func (e *Estimator) plausible(s RawSample) bool {
	if !s.Valid || !s.Value.Finite() {
		return false
	}
	switch s.Sensor {
	case SensorGyro:
		return s.Value.Norm() <= e.conf.GyroRange
	case SensorAccel:
		return s.Value.Norm() <= e.conf.AccelRange
	case SensorMag:
		return s.Value.Norm() > 0
	case SensorBaro:
		return s.Value.X > 1e4 && s.Value.X < 1.2e5
	case SensorGPS:
		g := s.GPS
		return math.Abs(s.Value.X) <= 90 && math.Abs(s.Value.Y) <= 180 &&
			g.FixType >= e.conf.GPSMinFix && g.NumSV >= e.conf.GPSMinSats &&
			g.HAcc <= e.conf.GPSMaxHAcc && g.Velocity.Finite()
	}
	return false
}

// Correct applies an absolute measurement. A sensor whose health is latched
// bad contributes nothing. The applied change is bounded by MaxAttitudeStep,
// MaxPositionStep and MaxVelocityStep.
func (e *Estimator) Correct(s RawSample) {
	if !e.usable(s.Sensor) {
		return
	}
	switch s.Sensor {
	case SensorMag:
		if !e.att.aligned {
			return
		}
		e.att.correctHeading(s.Value, e.conf.Declination, e.conf.MagGain, e.conf.MaxAttitudeStep)
	case SensorBaro:
		alt := e.baro.altitude(s.Value.X)
		r := e.conf.BaroNoise * e.conf.BaroNoise
		res := e.nav.update(downH(), []float64{-alt}, []float64{r}, e.conf.InnovationGate, e.forced(SensorBaro), e.conf.MaxPositionStep, e.conf.MaxVelocityStep)
		e.account(SensorBaro, res)
	case SensorGPS:
		e.correctGPS(s)
	}
}

func (e *Estimator) correctGPS(s RawSample) {
	fix := GeoPoint{Lat: s.Value.X, Lon: s.Value.Y, Alt: s.Value.Z}
	if !e.homeSet {
		// Home stays at the altitude where the baro reference was taken.
		pos := e.nav.pos()
		e.geo = GeoRef{Origin: GeoPoint{Lat: fix.Lat, Lon: fix.Lon, Alt: fix.Alt + pos.Z}}
		e.homeSet = true
		// The one step not bounded by MaxPositionStep: home is the origin by
		// definition, and nothing used the horizontal position while
		// PositionValid was false.
		e.nav.setPos(Vec3{X: 0, Y: 0, Z: pos.Z})
		e.log.Infow("home set", "home", e.geo.Origin)
	}
	p := e.geo.ToLocal(fix)
	v := s.GPS.Velocity
	hAcc := math.Max(s.GPS.HAcc, e.conf.GPSPosNoise)
	vAcc := math.Max(s.GPS.VAcc, e.conf.GPSPosNoise)
	sAcc := math.Max(s.GPS.SAcc, e.conf.GPSVelNoise)
	r := []float64{hAcc * hAcc, hAcc * hAcc, vAcc * vAcc, sAcc * sAcc, sAcc * sAcc, sAcc * sAcc}
	z := []float64{p.X, p.Y, p.Z, v.X, v.Y, v.Z}
	res := e.nav.update(gpsH(), z, r, e.conf.InnovationGate, e.forced(SensorGPS), e.conf.MaxPositionStep, e.conf.MaxVelocityStep)
	e.account(SensorGPS, res)
	if !res.Rejected {
		e.baro.anchor(-p.Z)
	}
}

// forced reports whether the gate should be skipped: after MaxRejects
// consecutive rejections the filter is assumed wrong, not the sensor.
func (e *Estimator) forced(id SensorID) bool {
	return e.conf.MaxRejects > 0 && e.rejects[id] >= e.conf.MaxRejects
}

func (e *Estimator) account(id SensorID, res updateResult) {
	if res.Rejected {
		e.counters.Rejected[id]++
		e.rejects[id]++
		if e.rejects[id] == e.conf.MaxRejects {
			e.log.Warnw("repeated innovation gate rejections", "sensor", id, "nis", res.NIS)
			e.nav.inflatePos(e.conf.PosValidVar)
		}
		return
	}
	if res.Clamped {
		e.counters.Clamped[id]++
	}
	if res.Forced {
		return
	}
	if e.forced(id) {
		e.log.Infow("innovations back inside gate", "sensor", id, "rejected", e.rejects[id])
	}
	e.rejects[id] = 0
}

// Predict advances the estimate by dt using the latest inertial samples.
func (e *Estimator) Predict(dt time.Duration) {
	if dt <= 0 {
		return
	}
	e.t = e.t.Add(dt)
	h := math.Min(dt.Seconds(), maxPredictStep)

	gyroOK, accelOK := e.usable(SensorGyro), e.usable(SensorAccel)
	if e.att.aligned && gyroOK {
		e.rate = e.att.propagate(e.gyro, e.accel, accelOK, e.conf.MahonyKp, e.conf.MahonyKi, e.conf.MaxTiltCorrection, h)
		if accelOK {
			e.attVar = math.Max(attVarFloor, e.attVar-e.conf.MahonyKp*h*e.attVar)
		} else {
			e.attVar += attVarGrowth * h
		}
	} else {
		e.rate = Vec3{}
		e.attVar += attVarStaleRate * h
	}

	if e.att.aligned && accelOK {
		e.accW = e.att.q.Rotate(e.accel).Add(Vec3{Z: Gravity})
		e.nav.predict(e.accW, h, 1)
	} else {
		e.accW = Vec3{}
		e.nav.predict(Vec3{}, h, staleNoiseScale)
	}
}

// checkSensors latches the health of every sensor from its sample age.
func (e *Estimator) checkSensors(now time.Time) {
	for i := range e.tracks {
		id := SensorID(i)
		tr := &e.tracks[i]
		last := tr.last
		if !tr.have {
			last = e.boot
		}
		sev := SeverityOK
		if now.Sub(last) > e.timeout(id) {
			sev = SeverityDegraded
			if id == SensorGyro || id == SensorAccel {
				sev = SeverityCritical
			}
		}
		latched, changed := tr.latch.Update(now, sev)
		if changed {
			if latched == SeverityOK {
				e.log.Infow("sensor recovered", "sensor", id)
			} else {
				e.log.Warnw("sensor stale", "sensor", id, "severity", latched, "age", now.Sub(last))
			}
		}
	}

	sev := SeverityOK
	pv := e.nav.posVar()
	if math.Max(pv.X, pv.Y) > e.conf.DivergeVar && e.homeSet {
		sev = SeverityDegraded
	} else if pv.Z > e.conf.DivergeVar && e.baro.set {
		sev = SeverityDegraded
	} else if e.conf.MaxRejects > 0 && (e.rejects[SensorGPS] >= e.conf.MaxRejects || e.rejects[SensorBaro] >= e.conf.MaxRejects) {
		sev = SeverityWarning
	}
	latched, changed := e.estSev.Update(now, sev)
	if changed {
		e.log.Infow("estimator health", "severity", latched, "pos_var", pv)
	}
}

// Update is one estimator tick: staleness check, prediction up to now, then
// publication. It returns the published state.
func (e *Estimator) Update(now time.Time) VehicleState {
	if !e.started {
		e.started = true
		e.boot = now
		e.t = now
	}
	e.checkSensors(now)
	if now.After(e.t) {
		e.Predict(now.Sub(e.t))
	}
	return e.publish(now)
}

func (e *Estimator) publish(now time.Time) VehicleState {
	pv := e.nav.posVar()
	gpsOK := e.usable(SensorGPS)
	altRef := e.usable(SensorBaro) || gpsOK

	st := VehicleState{
		Time:        now,
		Attitude:    e.att.q.Normalize(),
		Rate:        e.rate,
		Accel:       e.accW,
		Velocity:    e.nav.vel(),
		Position:    e.nav.pos(),
		PositionVar: pv,
		VelocityVar: e.nav.velVar(),
		AttitudeVar: e.attVar,
		HomeSet:     e.homeSet,
		Home:        e.geo.Origin,
	}
	st.AttitudeValid = e.att.aligned && e.usable(SensorGyro) && e.attVar < attValidVar
	st.AltitudeValid = st.AttitudeValid && altRef && pv.Z < e.conf.AltValidVar
	st.PositionValid = st.AltitudeValid && e.homeSet && gpsOK && math.Max(pv.X, pv.Y) < e.conf.PosValidVar
	st.Converged = st.AttitudeValid && st.AltitudeValid

	st.Health.Time = now
	for i := range e.tracks {
		st.Health.Flags[SensorHealth(SensorID(i))] = e.tracks[i].latch.Severity()
	}
	st.Health.Flags[HealthEstimator] = e.estSev.Severity()

	e.cur.Store(&st)
	return st
}

// Current returns the last published state. It never blocks.
// Before the first Update it returns a zero state with identity attitude.
func (e *Estimator) Current() VehicleState {
	st := e.cur.Load()
	if st == nil {
		return VehicleState{Attitude: QuatIdentity}
	}
	return *st
}

// Counters may only be called from the writer.
func (e *Estimator) Counters() Counters { return e.counters }

// Aligned reports whether the initial attitude has been set.
func (e *Estimator) Aligned() bool { return e.att.aligned }
