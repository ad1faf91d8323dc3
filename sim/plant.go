// Package sim is a rigid-body multicopter for software-in-the-loop flight.
//
// The plant consumes actuator commands, integrates its dynamics in fixed
// steps and emits sensor samples at each sensor's native rate with seeded
// noise, so two runs with the same seed and inputs are identical.
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/control"
	"nyiyui.ca/hato/fmu/ins"
)

// SampleSink receives generated sensor samples. vehicle.Vehicle is one.
type SampleSink interface {
	PushSample(s RawSample) bool
}

type Noise struct {
	Gyro   float64 // rad/s
	Accel  float64 // m/s²
	Mag    float64 // gauss
	Baro   float64 // Pa
	GPS    float64 // m
	GPSVel float64 // m/s
}

type Config struct {
	Home     GeoPoint
	Seed     uint64
	Geometry control.Geometry

	Mass float64 // kg
	// Inertia is the diagonal of the body inertia tensor in kg·m².
	Inertia Vec3
	Arm     float64 // m
	// MotorThrust is one motor's thrust at full output, in N.
	MotorThrust float64
	// YawCoeff converts motor thrust into reaction torque, in m.
	YawCoeff float64
	MotorLag time.Duration
	// Drag is linear in airspeed, in N/(m/s).
	Drag        float64
	AngularDrag float64

	MagField Vec3 // gauss, NED
	GyroBias Vec3
	Noise    Noise
	Periods  [NumSensors]time.Duration

	// Endurance is the flight time on a full battery at hover thrust.
	Endurance time.Duration
	Cells     int

	Step time.Duration
}

// DefaultConfig is a 1.5 kg quad-X that hovers at half throttle.
func DefaultConfig() Config {
	return Config{
		Home:        GeoPoint{Lat: 35.681, Lon: 139.767, Alt: 40},
		Seed:        1,
		Geometry:    control.QuadX(),
		Mass:        1.5,
		Inertia:     Vec3{X: 0.015, Y: 0.015, Z: 0.03},
		Arm:         0.25,
		MotorThrust: 1.5 * Gravity / 2,
		YawCoeff:    0.016,
		MotorLag:    30 * time.Millisecond,
		Drag:        0.3,
		AngularDrag: 0.002,
		MagField:    Vec3{X: 0.2, Z: 0.4},
		GyroBias:    Vec3{X: 0.01, Y: -0.005, Z: 0.002},
		Noise: Noise{
			Gyro:   0.002,
			Accel:  0.05,
			Mag:    0.002,
			Baro:   2,
			GPS:    0.3,
			GPSVel: 0.05,
		},
		Periods: [NumSensors]time.Duration{
			SensorGyro:  4 * time.Millisecond,
			SensorAccel: 4 * time.Millisecond,
			SensorMag:   20 * time.Millisecond,
			SensorBaro:  20 * time.Millisecond,
			SensorGPS:   200 * time.Millisecond,
		},
		Endurance: 15 * time.Minute,
		Cells:     4,
		Step:      time.Millisecond,
	}
}

// Truth is the plant's real state.
type Truth struct {
	Time     time.Time
	Attitude Quat
	Rate     Vec3
	Accel    Vec3
	Velocity Vec3
	Position Vec3
	Motors   []float64
	Grounded bool
}

func (t Truth) String() string {
	return fmt.Sprintf("truth@%s pos=%s vel=%s att=%s", t.Time.Format("15:04:05.000"), t.Position, t.Velocity, t.Attitude)
}

type drop struct {
	sensor      SensorID
	from, until time.Time
}

type Plant struct {
	conf Config
	geo  ins.GeoRef
	log  *zap.SugaredLogger
	sink SampleSink

	cmdLock sync.Mutex
	cmd     ActuatorCommand

	truth     Truth
	started   bool
	next      [NumSensors]time.Time
	drops     []drop
	remaining float64
	drain     float64

	noise [6]distuv.Normal
}

func New(conf Config, sink SampleSink) (*Plant, error) {
	if conf.Step <= 0 {
		return nil, fmt.Errorf("step %s: must be positive", conf.Step)
	}
	if len(conf.Geometry) < 4 {
		return nil, fmt.Errorf("geometry with %d rotors", len(conf.Geometry))
	}
	for id, p := range conf.Periods {
		if p <= 0 {
			return nil, fmt.Errorf("%s period %s: must be positive", SensorID(id), p)
		}
	}
	src := rand.NewSource(conf.Seed)
	p := &Plant{
		conf:      conf,
		geo:       ins.GeoRef{Origin: conf.Home},
		log:       zap.S().With("task", "sim"),
		sink:      sink,
		remaining: 1,
		drain:     1,
		truth: Truth{
			Attitude: QuatIdentity,
			Motors:   make([]float64, len(conf.Geometry)),
			Grounded: true,
		},
	}
	// One normal per noise kind, all drawing from the seeded source.
	for i, sigma := range []float64{conf.Noise.Gyro, conf.Noise.Accel, conf.Noise.Mag, conf.Noise.Baro, conf.Noise.GPS, conf.Noise.GPSVel} {
		p.noise[i] = distuv.Normal{Mu: 0, Sigma: math.Max(sigma, 1e-12), Src: src}
	}
	return p, nil
}

// Attach replaces the sample sink. It must not be called while stepping.
func (p *Plant) Attach(sink SampleSink) { p.sink = sink }

// Write is the vehicle's actuator sink. Outputs are used from the next step.
func (p *Plant) Write(cmd ActuatorCommand) error {
	if len(cmd.Outputs) != len(p.conf.Geometry) {
		return fmt.Errorf("got %d outputs for %d rotors", len(cmd.Outputs), len(p.conf.Geometry))
	}
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	p.cmd = cmd.Clone()
	return nil
}

func (p *Plant) command() ActuatorCommand {
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	return p.cmd
}

func (p *Plant) Truth() Truth {
	t := p.truth
	t.Motors = append([]float64(nil), t.Motors...)
	return t
}

// Place puts the vehicle at rest at pos with heading yaw.
func (p *Plant) Place(pos Vec3, yaw float64) {
	p.truth.Position = pos
	p.truth.Velocity = Vec3{}
	p.truth.Rate = Vec3{}
	p.truth.Attitude = QuatFromEuler(0, 0, yaw)
	p.truth.Grounded = pos.Z >= 0
}

// Drop silences sensor between from and until.
func (p *Plant) Drop(sensor SensorID, from, until time.Time) {
	p.drops = append(p.drops, drop{sensor, from, until})
}

// DegradeBattery sets the remaining charge and multiplies the drain rate.
func (p *Plant) DegradeBattery(remaining, drainFactor float64) {
	p.remaining = Clamp(remaining, 0, 1)
	p.drain = drainFactor
}

func (p *Plant) Battery() BatteryStatus {
	r := p.remaining
	return BatteryStatus{
		Time:      p.truth.Time,
		Voltage:   float64(p.conf.Cells) * (3.5 + 0.7*r),
		Remaining: r,
	}
}

func (p *Plant) dropped(id SensorID, t time.Time) bool {
	for _, d := range p.drops {
		if d.sensor == id && !t.Before(d.from) && t.Before(d.until) {
			return true
		}
	}
	return false
}

// Step integrates up to now, emitting every sample due on the way.
func (p *Plant) Step(now time.Time) {
	if !p.started {
		p.started = true
		p.truth.Time = now
		for i := range p.next {
			p.next[i] = now
		}
		p.emit()
		return
	}
	for p.truth.Time.Before(now) {
		dt := p.conf.Step
		if rest := now.Sub(p.truth.Time); rest < dt {
			dt = rest
		}
		p.integrate(dt.Seconds())
		p.truth.Time = p.truth.Time.Add(dt)
		p.emit()
	}
}
