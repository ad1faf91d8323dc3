package param

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejects(t *testing.T) {
	p := Default()
	p.Control.MinThrust = 0.9
	p.FMS.CriticalBattery = 0.5
	if err := p.Validate(); err == nil {
		t.Fatal("expected errors")
	}
}

func TestGetWith(t *testing.T) {
	cases := []struct {
		name  string
		value string
	}{
		{"control.rate_roll.kp", "0.2"},
		{"ins.timeouts.gps", "1.5s"},
		{"ins.align_samples", "20"},
		{"control.geometry", "hex-x"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, err := Default().With(c.name, c.value)
			if err != nil {
				t.Fatal(err)
			}
			got, err := p.Get(c.name)
			if err != nil {
				t.Fatal(err)
			}
			if got != c.value {
				t.Fatalf("got %q, want %q", got, c.value)
			}
		})
	}
	if _, err := Default().With("control.nope", "1"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("unknown name: %v", err)
	}
	if _, err := Default().With("control.rate_roll", "1"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("non-leaf name: %v", err)
	}
	if _, err := Default().With("control.rate_roll.kp", "fast"); err == nil {
		t.Fatal("bad value accepted")
	}
}

func TestNames(t *testing.T) {
	names := Names()
	p := Default()
	for _, name := range names {
		if _, err := p.Get(name); err != nil {
			t.Errorf("%s: %s", name, err)
		}
	}
	if names[0] != "ins.timeouts.gyro" {
		t.Fatalf("first name %s", names[0])
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airframe.yaml")
	err := os.WriteFile(path, []byte(`
control:
  geometry: hex-x
  rate_roll:
    kp: 0.12
ins:
  timeouts:
    gps: 2s
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.Control.Geometry = "hex-x"
	want.Control.RateRoll.Kp = 0.12
	want.INS.Timeouts.GPS = 2 * time.Second
	if !cmp.Equal(p, want) {
		t.Fatal(cmp.Diff(p, want))
	}
}

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.db")
	s, err := Open(path, Default())
	if err != nil {
		t.Fatal(err)
	}
	ch := make(chan Params, 1)
	s.Subscribe("test", ch)
	before := s.Snapshot()
	if err := s.Set("fms.land_speed", "0.5"); err != nil {
		t.Fatal(err)
	}
	if before.FMS.LandSpeed != Default().FMS.LandSpeed {
		t.Fatal("earlier snapshot was mutated")
	}
	got := <-ch
	if got.FMS.LandSpeed != 0.5 {
		t.Fatalf("notified %v", got.FMS.LandSpeed)
	}
	if err := s.Set("fms.critical_battery", "0.9"); err == nil {
		t.Fatal("invalid value accepted")
	}
	if s.Snapshot().FMS.CriticalBattery != Default().FMS.CriticalBattery {
		t.Fatal("rejected value applied")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path, Default())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Snapshot().FMS.LandSpeed != 0.5 {
		t.Fatal("override not persisted")
	}
	overrides, err := s.Overrides()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(overrides, map[string]string{"fms.land_speed": "0.5"}); diff != "" {
		t.Fatal(diff)
	}
	if err := s.Reset("fms.land_speed"); err != nil {
		t.Fatal(err)
	}
	if s.Snapshot().FMS.LandSpeed != Default().FMS.LandSpeed {
		t.Fatal("reset did not restore base value")
	}
}
