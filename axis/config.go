package axis

import (
	"math"
	"strconv"
)

// enumerations as the drive firmware numbers them
const (
	MotorTypeHighCurrent = 0

	ControlModeVoltage  = 0
	ControlModeTorque   = 1
	ControlModeVelocity = 2
	ControlModePosition = 3

	InputModePassthrough = 1
	InputModeVelRamp     = 2
	InputModePosFilter   = 3
	InputModeTrapTraj    = 5

	ProtocolNone = 0

	EncoderOnboard0 = 13
)

// Config holds the drive parameters written at provisioning.  It is applied
// as a whole; changing any field means provisioning again.
type Config struct {
	DCBusOvervoltageTrip  float64 `koanf:"dcBusOvervoltageTrip" yaml:"dcBusOvervoltageTrip"`
	DCBusUndervoltageTrip float64 `koanf:"dcBusUndervoltageTrip" yaml:"dcBusUndervoltageTrip"`
	DCMaxPositiveCurrent  float64 `koanf:"dcMaxPositiveCurrent" yaml:"dcMaxPositiveCurrent"`
	DCMaxNegativeCurrent  float64 `koanf:"dcMaxNegativeCurrent" yaml:"dcMaxNegativeCurrent"`

	BrakeResistorEnabled bool    `koanf:"brakeResistorEnabled" yaml:"brakeResistorEnabled"`
	BrakeResistance      float64 `koanf:"brakeResistance" yaml:"brakeResistance"`

	MotorType                 int     `koanf:"motorType" yaml:"motorType"`
	PolePairs                 int     `koanf:"polePairs" yaml:"polePairs"`
	TorqueConstant            float64 `koanf:"torqueConstant" yaml:"torqueConstant"`
	CurrentSoftMax            float64 `koanf:"currentSoftMax" yaml:"currentSoftMax"`
	CurrentHardMax            float64 `koanf:"currentHardMax" yaml:"currentHardMax"`
	CalibrationCurrent        float64 `koanf:"calibrationCurrent" yaml:"calibrationCurrent"`
	ResistanceCalibMaxVoltage float64 `koanf:"resistanceCalibMaxVoltage" yaml:"resistanceCalibMaxVoltage"`
	LockinCurrent             float64 `koanf:"lockinCurrent" yaml:"lockinCurrent"`
	ThermistorEnabled         bool    `koanf:"thermistorEnabled" yaml:"thermistorEnabled"`

	ControlMode       int     `koanf:"controlMode" yaml:"controlMode"`
	InputMode         int     `koanf:"inputMode" yaml:"inputMode"`
	VelLimit          float64 `koanf:"velLimit" yaml:"velLimit"`
	VelLimitTolerance float64 `koanf:"velLimitTolerance" yaml:"velLimitTolerance"`
	VelRampRate       float64 `koanf:"velRampRate" yaml:"velRampRate"`

	// trapezoidal trajectory limits, turn/s and turn/s^2
	TrapVelLimit   float64 `koanf:"trapVelLimit" yaml:"trapVelLimit"`
	TrapAccelLimit float64 `koanf:"trapAccelLimit" yaml:"trapAccelLimit"`
	TrapDecelLimit float64 `koanf:"trapDecelLimit" yaml:"trapDecelLimit"`

	TorqueSoftMin float64 `koanf:"torqueSoftMin" yaml:"torqueSoftMin"`
	TorqueSoftMax float64 `koanf:"torqueSoftMax" yaml:"torqueSoftMax"`

	CANProtocol        int  `koanf:"canProtocol" yaml:"canProtocol"`
	WatchdogEnabled    bool `koanf:"watchdogEnabled" yaml:"watchdogEnabled"`
	LoadEncoder        int  `koanf:"loadEncoder" yaml:"loadEncoder"`
	CommutationEncoder int  `koanf:"commutationEncoder" yaml:"commutationEncoder"`
	UARTAEnabled       bool `koanf:"uartAEnabled" yaml:"uartAEnabled"`
}

// DefaultConfig returns the parameters for the bench motor: a 7 pole pair
// high current BLDC on the onboard encoder with a 2 ohm brake resistor,
// position control through a trapezoidal trajectory
func DefaultConfig() Config {
	return Config{
		DCBusOvervoltageTrip:      30,
		DCBusUndervoltageTrip:     10.5,
		DCMaxPositiveCurrent:      10,
		DCMaxNegativeCurrent:      -1,
		BrakeResistorEnabled:      true,
		BrakeResistance:           2,
		MotorType:                 MotorTypeHighCurrent,
		PolePairs:                 7,
		TorqueConstant:            0.02506060606060606,
		CurrentSoftMax:            40,
		CurrentHardMax:            60,
		CalibrationCurrent:        3,
		ResistanceCalibMaxVoltage: 2,
		LockinCurrent:             3,
		ThermistorEnabled:         false,
		ControlMode:               ControlModePosition,
		InputMode:                 InputModeTrapTraj,
		VelLimit:                  5,
		VelLimitTolerance:         1.2,
		VelRampRate:               10,
		TrapVelLimit:              10,
		TrapAccelLimit:            2,
		TrapDecelLimit:            2,
		TorqueSoftMin:             math.Inf(-1),
		TorqueSoftMax:             math.Inf(1),
		CANProtocol:               ProtocolNone,
		WatchdogEnabled:           false,
		LoadEncoder:               EncoderOnboard0,
		CommutationEncoder:        EncoderOnboard0,
		UARTAEnabled:              false,
	}
}

// Property is one parameter write, a property path on the drive and its
// value as text
type Property struct {
	Path  string
	Value string
}

// Properties returns the writes that apply the config, in order
func (c Config) Properties() []Property {
	return []Property{
		{"config.dc_bus_overvoltage_trip_level", ftoa(c.DCBusOvervoltageTrip)},
		{"config.dc_bus_undervoltage_trip_level", ftoa(c.DCBusUndervoltageTrip)},
		{"config.dc_max_positive_current", ftoa(c.DCMaxPositiveCurrent)},
		{"config.dc_max_negative_current", ftoa(c.DCMaxNegativeCurrent)},
		{"config.brake_resistor0.enable", btoa(c.BrakeResistorEnabled)},
		{"config.brake_resistor0.resistance", ftoa(c.BrakeResistance)},
		{"axis0.config.motor.motor_type", strconv.Itoa(c.MotorType)},
		{"axis0.config.motor.pole_pairs", strconv.Itoa(c.PolePairs)},
		{"axis0.config.motor.torque_constant", ftoa(c.TorqueConstant)},
		{"axis0.config.motor.current_soft_max", ftoa(c.CurrentSoftMax)},
		{"axis0.config.motor.current_hard_max", ftoa(c.CurrentHardMax)},
		{"axis0.config.motor.calibration_current", ftoa(c.CalibrationCurrent)},
		{"axis0.config.motor.resistance_calib_max_voltage", ftoa(c.ResistanceCalibMaxVoltage)},
		{"axis0.config.calibration_lockin.current", ftoa(c.LockinCurrent)},
		{"axis0.motor.motor_thermistor.config.enabled", btoa(c.ThermistorEnabled)},
		{"axis0.controller.config.control_mode", strconv.Itoa(c.ControlMode)},
		{"axis0.controller.config.input_mode", strconv.Itoa(c.InputMode)},
		{"axis0.controller.config.vel_limit", ftoa(c.VelLimit)},
		{"axis0.controller.config.vel_limit_tolerance", ftoa(c.VelLimitTolerance)},
		{"axis0.controller.config.vel_ramp_rate", ftoa(c.VelRampRate)},
		{"axis0.trap_traj.config.vel_limit", ftoa(c.TrapVelLimit)},
		{"axis0.trap_traj.config.accel_limit", ftoa(c.TrapAccelLimit)},
		{"axis0.trap_traj.config.decel_limit", ftoa(c.TrapDecelLimit)},
		{"axis0.config.torque_soft_min", ftoa(c.TorqueSoftMin)},
		{"axis0.config.torque_soft_max", ftoa(c.TorqueSoftMax)},
		{"can.config.protocol", strconv.Itoa(c.CANProtocol)},
		{"axis0.config.enable_watchdog", btoa(c.WatchdogEnabled)},
		{"axis0.config.load_encoder", strconv.Itoa(c.LoadEncoder)},
		{"axis0.config.commutation_encoder", strconv.Itoa(c.CommutationEncoder)},
		{"config.enable_uart_a", btoa(c.UARTAEnabled)},
	}
}

// ftoa formats a float the way the drive parses it, infinities as inf
func ftoa(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func btoa(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
