// Package param holds the tunable constants of the flight stack.
//
// Components get an immutable copy of their section at construction and later
// copies through explicit SetParams calls; nothing reads parameters globally.
package param

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type Params struct {
	INS     INS     `yaml:"ins" json:"ins"`
	Control Control `yaml:"control" json:"control"`
	FMS     FMS     `yaml:"fms" json:"fms"`
	Land    Land    `yaml:"land" json:"land"`
	Sched   Sched   `yaml:"sched" json:"sched"`
	Vehicle Vehicle `yaml:"vehicle" json:"vehicle"`
}

type SensorTimeouts struct {
	Gyro  time.Duration `yaml:"gyro" json:"gyro"`
	Accel time.Duration `yaml:"accel" json:"accel"`
	Mag   time.Duration `yaml:"mag" json:"mag"`
	Baro  time.Duration `yaml:"baro" json:"baro"`
	GPS   time.Duration `yaml:"gps" json:"gps"`
}

type INS struct {
	Timeouts     SensorTimeouts `yaml:"timeouts" json:"timeouts"`
	RecoveryTime time.Duration  `yaml:"recovery_time" json:"recovery_time"`
	AlignSamples int            `yaml:"align_samples" json:"align_samples"`

	MahonyKp float64 `yaml:"mahony_kp" json:"mahony_kp"`
	MahonyKi float64 `yaml:"mahony_ki" json:"mahony_ki"`
	// MaxTiltCorrection caps the accelerometer feedback, in rad/s.
	MaxTiltCorrection float64 `yaml:"max_tilt_correction" json:"max_tilt_correction"`
	// MagGain is the fraction of the heading error removed per magnetometer sample.
	MagGain     float64 `yaml:"mag_gain" json:"mag_gain"`
	Declination float64 `yaml:"declination" json:"declination"`

	MaxAttitudeStep float64 `yaml:"max_attitude_step" json:"max_attitude_step"`
	MaxPositionStep float64 `yaml:"max_position_step" json:"max_position_step"`
	MaxVelocityStep float64 `yaml:"max_velocity_step" json:"max_velocity_step"`

	AccelNoise     float64 `yaml:"accel_noise" json:"accel_noise"`
	BaroNoise      float64 `yaml:"baro_noise" json:"baro_noise"`
	GPSPosNoise    float64 `yaml:"gps_pos_noise" json:"gps_pos_noise"`
	GPSVelNoise    float64 `yaml:"gps_vel_noise" json:"gps_vel_noise"`
	InnovationGate float64 `yaml:"innovation_gate" json:"innovation_gate"`
	MaxRejects     int     `yaml:"max_rejects" json:"max_rejects"`

	GPSMinFix  int     `yaml:"gps_min_fix" json:"gps_min_fix"`
	GPSMinSats int     `yaml:"gps_min_sats" json:"gps_min_sats"`
	GPSMaxHAcc float64 `yaml:"gps_max_hacc" json:"gps_max_hacc"`

	PosValidVar float64 `yaml:"pos_valid_var" json:"pos_valid_var"`
	AltValidVar float64 `yaml:"alt_valid_var" json:"alt_valid_var"`
	DivergeVar  float64 `yaml:"diverge_var" json:"diverge_var"`

	GyroRange  float64 `yaml:"gyro_range" json:"gyro_range"`
	AccelRange float64 `yaml:"accel_range" json:"accel_range"`
}

type PIDGains struct {
	Kp     float64 `yaml:"kp" json:"kp"`
	Ki     float64 `yaml:"ki" json:"ki"`
	Kd     float64 `yaml:"kd" json:"kd"`
	IMax   float64 `yaml:"imax" json:"imax"`
	OutMax float64 `yaml:"out_max" json:"out_max"`
}

type Control struct {
	RateRoll  PIDGains `yaml:"rate_roll" json:"rate_roll"`
	RatePitch PIDGains `yaml:"rate_pitch" json:"rate_pitch"`
	RateYaw   PIDGains `yaml:"rate_yaw" json:"rate_yaw"`

	AttitudeRollP  float64 `yaml:"attitude_roll_p" json:"attitude_roll_p"`
	AttitudePitchP float64 `yaml:"attitude_pitch_p" json:"attitude_pitch_p"`
	AttitudeYawP   float64 `yaml:"attitude_yaw_p" json:"attitude_yaw_p"`
	MaxRate        float64 `yaml:"max_rate" json:"max_rate"`
	MaxYawRate     float64 `yaml:"max_yaw_rate" json:"max_yaw_rate"`

	VelocityXY  PIDGains `yaml:"velocity_xy" json:"velocity_xy"`
	VelocityZ   PIDGains `yaml:"velocity_z" json:"velocity_z"`
	PositionXYP float64  `yaml:"position_xy_p" json:"position_xy_p"`
	PositionZP  float64  `yaml:"position_z_p" json:"position_z_p"`

	MaxHorizontalSpeed float64 `yaml:"max_horizontal_speed" json:"max_horizontal_speed"`
	MaxClimbRate       float64 `yaml:"max_climb_rate" json:"max_climb_rate"`
	MaxDescentRate     float64 `yaml:"max_descent_rate" json:"max_descent_rate"`
	MaxTilt            float64 `yaml:"max_tilt" json:"max_tilt"`

	HoverThrust float64 `yaml:"hover_thrust" json:"hover_thrust"`
	MinThrust   float64 `yaml:"min_thrust" json:"min_thrust"`
	MaxThrust   float64 `yaml:"max_thrust" json:"max_thrust"`

	SetpointTimeout time.Duration `yaml:"setpoint_timeout" json:"setpoint_timeout"`
	SetpointGrace   time.Duration `yaml:"setpoint_grace" json:"setpoint_grace"`
	// FallbackThrust is the fraction of hover thrust commanded once the grace period ends.
	FallbackThrust float64 `yaml:"fallback_thrust" json:"fallback_thrust"`

	Geometry     string  `yaml:"geometry" json:"geometry"`
	YawAuthority float64 `yaml:"yaw_authority" json:"yaw_authority"`
	PWMMin       int     `yaml:"pwm_min" json:"pwm_min"`
	PWMMax       int     `yaml:"pwm_max" json:"pwm_max"`

	HoverWindow    int     `yaml:"hover_window" json:"hover_window"`
	HoverMinSpread float64 `yaml:"hover_min_spread" json:"hover_min_spread"`
	HoverMaxRate   float64 `yaml:"hover_max_rate" json:"hover_max_rate"`
	HoverMin       float64 `yaml:"hover_min" json:"hover_min"`
	HoverMax       float64 `yaml:"hover_max" json:"hover_max"`
}

type FMS struct {
	CommTimeout    time.Duration `yaml:"comm_timeout" json:"comm_timeout"`
	StateTimeout   time.Duration `yaml:"state_timeout" json:"state_timeout"`
	BatteryTimeout time.Duration `yaml:"battery_timeout" json:"battery_timeout"`
	StickDeadband  float64       `yaml:"stick_deadband" json:"stick_deadband"`

	ManualMaxRate  float64 `yaml:"manual_max_rate" json:"manual_max_rate"`
	StickMaxTilt   float64 `yaml:"stick_max_tilt" json:"stick_max_tilt"`
	StickYawRate   float64 `yaml:"stick_yaw_rate" json:"stick_yaw_rate"`
	StickClimbRate float64 `yaml:"stick_climb_rate" json:"stick_climb_rate"`
	StickSpeed     float64 `yaml:"stick_speed" json:"stick_speed"`

	LandSpeed            float64 `yaml:"land_speed" json:"land_speed"`
	FailsafeDescentSpeed float64 `yaml:"failsafe_descent_speed" json:"failsafe_descent_speed"`
	// FailsafeThrust is the fraction of hover thrust used when no altitude is known.
	FailsafeThrust float64 `yaml:"failsafe_thrust" json:"failsafe_thrust"`

	ReturnAltitude      float64 `yaml:"return_altitude" json:"return_altitude"`
	ReturnAcceptRadius  float64 `yaml:"return_accept_radius" json:"return_accept_radius"`
	DefaultAcceptRadius float64 `yaml:"default_accept_radius" json:"default_accept_radius"`

	LowBattery      float64 `yaml:"low_battery" json:"low_battery"`
	CriticalBattery float64 `yaml:"critical_battery" json:"critical_battery"`

	MissionCompleteMode string `yaml:"mission_complete_mode" json:"mission_complete_mode"`
	RecoverMode         string `yaml:"recover_mode" json:"recover_mode"`
}

type Land struct {
	MinThrottle        float64       `yaml:"min_throttle" json:"min_throttle"`
	LowThrottleFactor  float64       `yaml:"low_throttle_factor" json:"low_throttle_factor"`
	MaxVerticalSpeed   float64       `yaml:"max_vertical_speed" json:"max_vertical_speed"`
	MaxHorizontalSpeed float64       `yaml:"max_horizontal_speed" json:"max_horizontal_speed"`
	MaxRotation        float64       `yaml:"max_rotation" json:"max_rotation"`
	GroundContactTime  time.Duration `yaml:"ground_contact_time" json:"ground_contact_time"`
	MaybeLandedTime    time.Duration `yaml:"maybe_landed_time" json:"maybe_landed_time"`
	LandedTime         time.Duration `yaml:"landed_time" json:"landed_time"`
	FreefallAccel      float64       `yaml:"freefall_accel" json:"freefall_accel"`
	FreefallTime       time.Duration `yaml:"freefall_time" json:"freefall_time"`
}

type Sched struct {
	INS      time.Duration `yaml:"ins" json:"ins"`
	Rate     time.Duration `yaml:"rate" json:"rate"`
	Attitude time.Duration `yaml:"attitude" json:"attitude"`
	Position time.Duration `yaml:"position" json:"position"`
	FMS      time.Duration `yaml:"fms" json:"fms"`
	Land     time.Duration `yaml:"land" json:"land"`
	Status   time.Duration `yaml:"status" json:"status"`
}

type Vehicle struct {
	// SampleQueue is how many sensor samples may wait for the ins task.
	SampleQueue int `yaml:"sample_queue" json:"sample_queue"`
	// LearnHover enables in-flight hover thrust estimation.
	LearnHover bool `yaml:"learn_hover" json:"learn_hover"`
}

const deg = math.Pi / 180

// Default returns a quad-X configuration that flies the simulator.
func Default() Params {
	return Params{
		INS: INS{
			Timeouts: SensorTimeouts{
				Gyro:  50 * time.Millisecond,
				Accel: 50 * time.Millisecond,
				Mag:   500 * time.Millisecond,
				Baro:  500 * time.Millisecond,
				GPS:   time.Second,
			},
			RecoveryTime:      2 * time.Second,
			AlignSamples:      50,
			MahonyKp:          1.0,
			MahonyKi:          0.05,
			MaxTiltCorrection: 0.5,
			MagGain:           0.05,
			MaxAttitudeStep:   2 * deg,
			MaxPositionStep:   0.5,
			MaxVelocityStep:   0.5,
			AccelNoise:        0.5,
			BaroNoise:         0.5,
			GPSPosNoise:       0.5,
			GPSVelNoise:       0.2,
			InnovationGate:    5,
			MaxRejects:        10,
			GPSMinFix:         3,
			GPSMinSats:        6,
			GPSMaxHAcc:        5,
			PosValidVar:       25,
			AltValidVar:       9,
			DivergeVar:        400,
			GyroRange:         35,
			AccelRange:        160,
		},
		Control: Control{
			RateRoll:           PIDGains{Kp: 0.15, Ki: 0.2, Kd: 0.003, IMax: 0.3, OutMax: 1},
			RatePitch:          PIDGains{Kp: 0.15, Ki: 0.2, Kd: 0.003, IMax: 0.3, OutMax: 1},
			RateYaw:            PIDGains{Kp: 0.2, Ki: 0.1, IMax: 0.3, OutMax: 1},
			AttitudeRollP:      6.5,
			AttitudePitchP:     6.5,
			AttitudeYawP:       2.8,
			MaxRate:            220 * deg,
			MaxYawRate:         200 * deg,
			VelocityXY:         PIDGains{Kp: 1.8, Ki: 0.4, Kd: 0.2, IMax: 3, OutMax: 6},
			VelocityZ:          PIDGains{Kp: 4, Ki: 2, IMax: 4, OutMax: 8},
			PositionXYP:        0.95,
			PositionZP:         1.0,
			MaxHorizontalSpeed: 8,
			MaxClimbRate:       3,
			MaxDescentRate:     1.5,
			MaxTilt:            35 * deg,
			HoverThrust:        0.5,
			MinThrust:          0.08,
			MaxThrust:          1,
			SetpointTimeout:    100 * time.Millisecond,
			SetpointGrace:      500 * time.Millisecond,
			FallbackThrust:     0.85,
			Geometry:           "quad-x",
			YawAuthority:       0.3,
			PWMMin:             1000,
			PWMMax:             2000,
			HoverWindow:        200,
			HoverMinSpread:     0.02,
			HoverMaxRate:       0.05,
			HoverMin:           0.1,
			HoverMax:           0.8,
		},
		FMS: FMS{
			CommTimeout:          time.Second,
			StateTimeout:         100 * time.Millisecond,
			BatteryTimeout:       5 * time.Second,
			StickDeadband:        0.1,
			ManualMaxRate:        180 * deg,
			StickMaxTilt:         30 * deg,
			StickYawRate:         90 * deg,
			StickClimbRate:       2,
			StickSpeed:           5,
			LandSpeed:            0.7,
			FailsafeDescentSpeed: 1,
			FailsafeThrust:       0.9,
			ReturnAltitude:       30,
			ReturnAcceptRadius:   2,
			DefaultAcceptRadius:  1,
			LowBattery:           0.25,
			CriticalBattery:      0.1,
			MissionCompleteMode:  "land",
			RecoverMode:          "stabilize",
		},
		Land: Land{
			MinThrottle:        0.08,
			LowThrottleFactor:  0.3,
			MaxVerticalSpeed:   0.5,
			MaxHorizontalSpeed: 1.5,
			MaxRotation:        20 * deg,
			GroundContactTime:  350 * time.Millisecond,
			MaybeLandedTime:    250 * time.Millisecond,
			LandedTime:         time.Second,
			FreefallAccel:      2,
			FreefallTime:       300 * time.Millisecond,
		},
		Sched: Sched{
			INS:      4 * time.Millisecond,
			Rate:     4 * time.Millisecond,
			Attitude: 10 * time.Millisecond,
			Position: 20 * time.Millisecond,
			FMS:      20 * time.Millisecond,
			Land:     20 * time.Millisecond,
			Status:   200 * time.Millisecond,
		},
		Vehicle: Vehicle{
			SampleQueue: 256,
			LearnHover:  true,
		},
	}
}

// Validate reports every inconsistent value at once.
func (p Params) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	ts := p.INS.Timeouts
	for name, d := range map[string]time.Duration{"gyro": ts.Gyro, "accel": ts.Accel, "mag": ts.Mag, "baro": ts.Baro, "gps": ts.GPS} {
		check(d > 0, "ins.timeouts.%s: must be positive", name)
	}
	check(p.INS.AlignSamples > 0, "ins.align_samples: must be positive")
	check(p.INS.MaxAttitudeStep > 0, "ins.max_attitude_step: must be positive")
	check(p.INS.MaxPositionStep > 0, "ins.max_position_step: must be positive")
	check(p.INS.MaxVelocityStep > 0, "ins.max_velocity_step: must be positive")
	check(p.INS.MagGain >= 0 && p.INS.MagGain <= 1, "ins.mag_gain: must be in [0, 1]")
	check(p.INS.BaroNoise > 0 && p.INS.GPSPosNoise > 0 && p.INS.GPSVelNoise > 0 && p.INS.AccelNoise > 0, "ins: noise values must be positive")
	check(p.INS.PosValidVar < p.INS.DivergeVar, "ins.pos_valid_var: must be below ins.diverge_var")

	c := p.Control
	check(c.MinThrust >= 0 && c.MinThrust < c.MaxThrust && c.MaxThrust <= 1, "control: need 0 <= min_thrust < max_thrust <= 1")
	check(c.HoverThrust > c.MinThrust && c.HoverThrust < c.MaxThrust, "control.hover_thrust: must lie between min_thrust and max_thrust")
	check(c.MaxTilt > 0 && c.MaxTilt < math.Pi/2, "control.max_tilt: must be in (0, π/2)")
	check(c.SetpointTimeout > 0, "control.setpoint_timeout: must be positive")
	check(c.SetpointGrace >= 0, "control.setpoint_grace: must not be negative")
	check(c.PWMMin > 0 && c.PWMMin < c.PWMMax, "control: need 0 < pwm_min < pwm_max")
	check(c.Geometry == "quad-x" || c.Geometry == "hex-x", "control.geometry: unknown geometry %q", c.Geometry)
	check(c.HoverWindow >= 10, "control.hover_window: must be at least 10")
	for name, g := range map[string]PIDGains{"rate_roll": c.RateRoll, "rate_pitch": c.RatePitch, "rate_yaw": c.RateYaw, "velocity_xy": c.VelocityXY, "velocity_z": c.VelocityZ} {
		check(g.OutMax > 0 && g.IMax >= 0, "control.%s: out_max must be positive and imax not negative", name)
	}

	f := p.FMS
	check(f.CommTimeout > 0 && f.StateTimeout > 0 && f.BatteryTimeout > 0, "fms: timeouts must be positive")
	check(f.CriticalBattery < f.LowBattery, "fms.critical_battery: must be below fms.low_battery")
	check(f.LandSpeed > 0 && f.FailsafeDescentSpeed > 0, "fms: descent speeds must be positive")
	check(f.ReturnAcceptRadius > 0 && f.DefaultAcceptRadius > 0, "fms: accept radii must be positive")
	for _, name := range []string{f.MissionCompleteMode, f.RecoverMode} {
		check(name == "land" || name == "position-hold" || name == "altitude-hold" || name == "stabilize",
			"fms: %q is not a permitted target mode", name)
	}

	l := p.Land
	check(l.MaxVerticalSpeed > 0 && l.MaxHorizontalSpeed > 0 && l.MaxRotation > 0, "land: movement thresholds must be positive")

	s := p.Sched
	for name, d := range map[string]time.Duration{"ins": s.INS, "rate": s.Rate, "attitude": s.Attitude, "position": s.Position, "fms": s.FMS, "land": s.Land, "status": s.Status} {
		check(d > 0, "sched.%s: must be positive", name)
	}
	check(s.INS <= s.Rate && s.Rate <= s.Attitude && s.Attitude <= s.Position, "sched: loops must slow down from ins to position")
	check(c.SetpointTimeout > s.FMS, "control.setpoint_timeout: must exceed sched.fms")
	check(p.Vehicle.SampleQueue > 0, "vehicle.sample_queue: must be positive")
	return errors.Join(errs...)
}
