package sim

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/ins"
)

var t0 = time.Unix(1700000000, 0)

type recorder struct {
	samples []RawSample
}

func (r *recorder) PushSample(s RawSample) bool {
	r.samples = append(r.samples, s)
	return true
}

func (r *recorder) of(id SensorID) []RawSample {
	var out []RawSample
	for _, s := range r.samples {
		if s.Sensor == id {
			out = append(out, s)
		}
	}
	return out
}

func quiet() Config {
	c := DefaultConfig()
	c.Noise = Noise{}
	return c
}

func near(a, b Vec3, tol float64) bool {
	return a.Sub(b).Norm() <= tol
}

func newPlant(t *testing.T, c Config) (*Plant, *recorder) {
	r := new(recorder)
	p, err := New(c, r)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	return p, r
}

func TestResting(t *testing.T) {
	c := quiet()
	p, r := newPlant(t, c)
	p.Step(t0)
	p.Step(t0.Add(100 * time.Millisecond))

	if tr := p.Truth(); !tr.Grounded || tr.Position.Norm() != 0 {
		t.Fatalf("moved while resting: %s", tr)
	}
	acc := r.of(SensorAccel)
	// 0, 4, ..., 100 ms
	if len(acc) != 26 {
		t.Fatalf("got %d accel samples", len(acc))
	}
	for _, s := range acc {
		if !near(s.Value, Vec3{Z: -Gravity}, 1e-6) {
			t.Fatalf("accel %s", s)
		}
	}
	for _, s := range r.of(SensorGyro) {
		if !near(s.Value, c.GyroBias, 1e-6) {
			t.Fatalf("gyro %s", s)
		}
	}
	for _, s := range r.of(SensorBaro) {
		if math.Abs(s.Value.X-ins.AltitudePressure(c.Home.Alt)) > 1e-6 {
			t.Fatalf("baro %s", s)
		}
	}
	gps := r.of(SensorGPS)
	if len(gps) != 1 {
		t.Fatalf("got %d gps samples", len(gps))
	}
	if g := gps[0]; math.Abs(g.Value.X-c.Home.Lat) > 1e-9 || math.Abs(g.Value.Y-c.Home.Lon) > 1e-9 || g.GPS.FixType != 3 {
		t.Fatalf("gps %s %+v", g, g.GPS)
	}
}

func TestSampleOrder(t *testing.T) {
	p, r := newPlant(t, quiet())
	p.Step(t0)
	for i := 1; i <= 50; i++ {
		p.Step(t0.Add(time.Duration(i) * 7 * time.Millisecond))
	}
	var last [NumSensors]time.Time
	for _, s := range r.samples {
		if !s.Time.After(last[s.Sensor]) {
			t.Fatalf("%s not after %s", s, last[s.Sensor].Format("15:04:05.000"))
		}
		last[s.Sensor] = s.Time
	}
}

func TestHover(t *testing.T) {
	c := quiet()
	c.Drag = 0
	p, _ := newPlant(t, c)
	p.Place(Vec3{Z: -10}, 0.3)
	p.Step(t0)
	err := p.Write(ActuatorCommand{Time: t0, Armed: true, Outputs: []float64{0.5, 0.5, 0.5, 0.5}})
	if err != nil {
		t.Fatalf("Write: %s", err)
	}
	p.Step(t0.Add(2 * time.Second))
	tr := p.Truth()
	// Only the motor spin-up loses height.
	if tr.Position.Z < -10.01 || tr.Position.Z > -9 {
		t.Fatalf("altitude drifted: %s", tr)
	}
	if tr.Rate.Norm() > 1e-9 || math.Abs(tr.Attitude.Yaw()-0.3) > 1e-9 {
		t.Fatalf("rotated: %s", tr)
	}
	for i, m := range tr.Motors {
		if math.Abs(m-0.5) > 1e-6 {
			t.Fatalf("motor %d at %g", i, m)
		}
	}
}

func TestFallAndTouchdown(t *testing.T) {
	p, _ := newPlant(t, quiet())
	p.Place(Vec3{Z: -2}, 0)
	p.Step(t0)
	p.Step(t0.Add(2 * time.Second))
	tr := p.Truth()
	if !tr.Grounded || tr.Position.Z != 0 || tr.Velocity.Norm() != 0 {
		t.Fatalf("not on the ground: %s", tr)
	}
}

func TestTorqueSigns(t *testing.T) {
	// Raising the left rotors rolls right, raising the front ones pitches up.
	for _, tc := range []struct {
		name string
		axis func(Vec3) float64
	}{
		{"roll", func(v Vec3) float64 { return v.X }},
		{"pitch", func(v Vec3) float64 { return v.Y }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := quiet()
			p, _ := newPlant(t, c)
			p.Place(Vec3{Z: -10}, 0)
			p.Step(t0)
			out := make([]float64, len(c.Geometry))
			for i, r := range c.Geometry {
				out[i] = 0.5
				switch tc.name {
				case "roll":
					if math.Sin(r.Angle) < 0 {
						out[i] = 0.6
					}
				case "pitch":
					if math.Cos(r.Angle) > 0 {
						out[i] = 0.6
					}
				}
			}
			err := p.Write(ActuatorCommand{Armed: true, Outputs: out})
			if err != nil {
				t.Fatalf("Write: %s", err)
			}
			p.Step(t0.Add(100 * time.Millisecond))
			if got := tc.axis(p.Truth().Rate); got <= 0 {
				t.Fatalf("rate %g", got)
			}
		})
	}
}

func TestDrop(t *testing.T) {
	p, r := newPlant(t, quiet())
	p.Drop(SensorGPS, t0, t0.Add(time.Second))
	p.Step(t0)
	p.Step(t0.Add(2 * time.Second))
	gps := r.of(SensorGPS)
	// 1.0, 1.2, ..., 2.0 s
	if len(gps) != 6 {
		t.Fatalf("got %d gps samples", len(gps))
	}
	if gps[0].Time.Before(t0.Add(time.Second)) {
		t.Fatalf("sample during drop: %s", gps[0])
	}
	if n := len(r.of(SensorGyro)); n != 501 {
		t.Fatalf("gyro affected by gps drop: %d samples", n)
	}
}

func TestDeterministic(t *testing.T) {
	run := func(seed uint64) []RawSample {
		c := DefaultConfig()
		c.Seed = seed
		p, r := newPlant(t, c)
		p.Place(Vec3{Z: -5}, 0)
		p.Step(t0)
		p.Write(ActuatorCommand{Armed: true, Outputs: []float64{0.52, 0.5, 0.5, 0.48}})
		p.Step(t0.Add(500 * time.Millisecond))
		return r.samples
	}
	a, b := run(7), run(7)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed differs (-first +second):\n%s", diff)
	}
	if cmp.Equal(a, run(8)) {
		t.Fatal("different seeds gave identical samples")
	}
}

func TestBattery(t *testing.T) {
	p, _ := newPlant(t, quiet())
	p.Place(Vec3{Z: -10}, 0)
	p.Step(t0)
	p.DegradeBattery(0.5, 60)
	p.Write(ActuatorCommand{Armed: true, Outputs: []float64{0.5, 0.5, 0.5, 0.5}})
	p.Step(t0.Add(3 * time.Second))
	b := p.Battery()
	// 60x drain on a 15 minute battery is 15 s per full charge.
	if b.Remaining >= 0.5 || b.Remaining < 0.25 {
		t.Fatalf("remaining %g", b.Remaining)
	}
	if b.Voltage >= 4*(3.5+0.7*0.5) {
		t.Fatalf("voltage %g did not sag", b.Voltage)
	}
}

func TestWrite(t *testing.T) {
	p, _ := newPlant(t, quiet())
	if err := p.Write(ActuatorCommand{Outputs: []float64{0, 0}}); err == nil {
		t.Fatal("accepted 2 outputs for a quad")
	}
}
