package fmu

import (
	"fmt"
	"time"
)

type SensorID int

const (
	SensorGyro SensorID = iota
	SensorAccel
	SensorMag
	SensorBaro
	SensorGPS
	NumSensors
)

var sensorNames = []string{"gyro", "accel", "mag", "baro", "gps"}

func (s SensorID) String() string { return nameOf(sensorNames, int(s)) }

func (s SensorID) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SensorID) UnmarshalText(b []byte) error {
	i, ok := parseName(sensorNames, string(b))
	if !ok {
		return fmt.Errorf("unknown sensor %q", b)
	}
	*s = SensorID(i)
	return nil
}

// RawSample is one sensor reading.
//
// Value holds:
//   - gyro: body rate in rad/s
//   - accel: body specific force in m/s²
//   - mag: body field in gauss
//   - baro: {pressure Pa, temperature °C, 0}
//   - gps: {latitude °, longitude °, altitude m AMSL}
type RawSample struct {
	Sensor SensorID
	Time   time.Time
	Value  Vec3
	Valid  bool
	GPS    GPSInfo
}

// GPSInfo is the receiver's own quality report, only set for GPS samples.
type GPSInfo struct {
	// FixType is 0 for no fix, 2 for 2D and 3 for 3D.
	FixType  int
	NumSV    int
	HAcc     float64
	VAcc     float64
	SAcc     float64
	Velocity Vec3
}

func (s RawSample) String() string {
	if !s.Valid {
		return fmt.Sprintf("%s@%s invalid", s.Sensor, s.Time.Format("15:04:05.000"))
	}
	return fmt.Sprintf("%s@%s %s", s.Sensor, s.Time.Format("15:04:05.000"), s.Value)
}

// GeoPoint is a WGS84 position.
type GeoPoint struct {
	Lat float64
	Lon float64
	Alt float64
}
