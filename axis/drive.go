package axis

import "fmt"

// DriveState is the axis state as the drive firmware numbers it
type DriveState int

const (
	DriveUndefined            DriveState = 0
	DriveIdle                 DriveState = 1
	DriveStartupSequence      DriveState = 2
	DriveFullCalibration      DriveState = 3
	DriveMotorCalibration     DriveState = 4
	DriveEncoderIndexSearch   DriveState = 6
	DriveEncoderOffsetCalib   DriveState = 7
	DriveClosedLoop           DriveState = 8
	DriveLockinSpin           DriveState = 9
	DriveEncoderDirFind       DriveState = 10
	DriveHoming               DriveState = 11
	DriveEncoderHallPolarity  DriveState = 12
	DriveEncoderHallPhaseCali DriveState = 13
)

func (s DriveState) String() string {
	switch s {
	case DriveUndefined:
		return "UNDEFINED"
	case DriveIdle:
		return "IDLE"
	case DriveStartupSequence:
		return "STARTUP_SEQUENCE"
	case DriveFullCalibration:
		return "FULL_CALIBRATION_SEQUENCE"
	case DriveMotorCalibration:
		return "MOTOR_CALIBRATION"
	case DriveEncoderIndexSearch:
		return "ENCODER_INDEX_SEARCH"
	case DriveEncoderOffsetCalib:
		return "ENCODER_OFFSET_CALIBRATION"
	case DriveClosedLoop:
		return "CLOSED_LOOP_CONTROL"
	case DriveLockinSpin:
		return "LOCKIN_SPIN"
	case DriveEncoderDirFind:
		return "ENCODER_DIR_FIND"
	case DriveHoming:
		return "HOMING"
	case DriveEncoderHallPolarity:
		return "ENCODER_HALL_POLARITY_CALIBRATION"
	case DriveEncoderHallPhaseCali:
		return "ENCODER_HALL_PHASE_CALIBRATION"
	}
	return fmt.Sprintf("DriveState(%d)", int(s))
}

// DriveErrors holds the error words a drive reports
type DriveErrors struct {
	ActiveErrors uint32 `json:"activeErrors"`
	DisarmReason uint32 `json:"disarmReason"`
}

// Any returns true if any error bit is set
func (e DriveErrors) Any() bool {
	return e.ActiveErrors != 0 || e.DisarmReason != 0
}

// Drive is a handle to the servo drive behind one axis.  Positions are in
// turns, velocities in turns/s, torques in Nm.
type Drive interface {
	RequestState(DriveState) error
	CurrentState() (DriveState, error)

	Position() (float64, error)
	Velocity() (float64, error)
	Torque() (float64, error)

	SetInputPosition(float64) error
	SetInputVelocity(float64) error
	SetInputTorque(float64) error

	BusVoltage() (float64, error)
	Errors() (DriveErrors, error)
	ClearErrors() error

	// RebootRequired is true when the drive's configuration was changed
	// in a way that needs a reboot to take effect
	RebootRequired() (bool, error)
	ApplyConfig(Config) error

	// SaveConfig, EraseConfig and Reboot each reset the drive, the
	// handle is no good afterwards
	SaveConfig() error
	EraseConfig() error
	Reboot() error

	Close() error
}

// Connector finds the drive and returns a fresh handle to it
type Connector func() (Drive, error)
