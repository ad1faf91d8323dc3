package fmu

import (
	"fmt"
	"time"
)

// VehicleState is the estimator's current belief about the vehicle.
// Positions are NED metres relative to Home.
type VehicleState struct {
	Time     time.Time
	Attitude Quat
	// Rate is the bias-corrected body rate in rad/s.
	Rate Vec3
	// Accel is the NED acceleration with gravity removed.
	Accel    Vec3
	Velocity Vec3
	Position Vec3

	PositionVar Vec3
	VelocityVar Vec3
	AttitudeVar float64

	AttitudeValid bool
	AltitudeValid bool
	PositionValid bool
	Converged     bool

	Home    GeoPoint
	HomeSet bool

	Health HealthFlags
}

// Altitude is the height above home in metres.
func (s VehicleState) Altitude() float64 { return -s.Position.Z }

func (s VehicleState) String() string {
	return fmt.Sprintf("state@%s att=%s pos=%s vel=%s valid=%t/%t/%t",
		s.Time.Format("15:04:05.000"), s.Attitude, s.Position, s.Velocity,
		s.AttitudeValid, s.AltitudeValid, s.PositionValid)
}
