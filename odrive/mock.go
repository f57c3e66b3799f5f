package odrive

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nasa-jpl/forcebench/axis"
	"github.com/nasa-jpl/forcebench/comm"
)

// MockDrive is an in-memory drive for dry runs and tests.
//
// Full calibration takes CalibrationTime.  Closed loop is refused until the
// drive has been calibrated.  In closed loop the position follows the input
// position at Slew turns/s, or at once if Slew is zero.  After a save, erase
// or reboot the drive cannot be connected to for Downtime attempts.
type MockDrive struct {
	mu sync.Mutex

	// CalibrationTime is how long full calibration runs
	CalibrationTime time.Duration

	// Slew is the tracking rate in closed loop, turns/s
	Slew float64

	// Downtime is the number of connection attempts refused after a reset
	Downtime int

	// Vbus is the reported bus voltage
	Vbus float64

	state      axis.DriveState
	calStart   time.Time
	calibrated bool

	pos, input   float64
	vel, trq     float64
	lastTrack    time.Time
	errs         axis.DriveErrors
	rebootNeeded bool

	applied, saved *axis.Config

	down   int
	closed bool
	fail   error

	Connects, Applies, Saves, Erases, Reboots int
}

// NewMockDrive returns an idle, uncalibrated drive on a 24 V bus
func NewMockDrive() *MockDrive {
	return &MockDrive{state: axis.DriveIdle, Vbus: 24, CalibrationTime: 50 * time.Millisecond}
}

// Connector returns an axis.Connector yielding this drive
func (m *MockDrive) Connector() axis.Connector {
	return func() (axis.Drive, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Connects++
		if m.down > 0 {
			m.down--
			return nil, comm.ErrNotConnected
		}
		m.closed = false
		return m, nil
	}
}

// Fail makes every call fail with err until Fail(nil)
func (m *MockDrive) Fail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// RequireReboot makes the drive report that its configuration needs a reboot
func (m *MockDrive) RequireReboot() {
	m.mu.Lock()
	m.rebootNeeded = true
	m.mu.Unlock()
}

// Saved returns the configuration stored in the drive, nil if none
func (m *MockDrive) Saved() *axis.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved
}

// Input returns the input position in turns
func (m *MockDrive) Input() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input
}

// MoveTo puts the rotor somewhere by hand, as if turned while idle
func (m *MockDrive) MoveTo(turns float64) {
	m.mu.Lock()
	m.pos = turns
	m.mu.Unlock()
}

// check is called with mu held
func (m *MockDrive) check() error {
	if m.closed {
		return comm.ErrNotConnected
	}
	return m.fail
}

// advance moves the simulation forward to now.  mu must be held.
func (m *MockDrive) advance() {
	now := time.Now()
	if m.state == axis.DriveFullCalibration && now.Sub(m.calStart) >= m.CalibrationTime {
		m.state = axis.DriveIdle
		m.calibrated = true
	}
	if m.state == axis.DriveClosedLoop {
		if m.Slew == 0 || m.lastTrack.IsZero() {
			m.pos = m.input
		} else {
			step := m.Slew * now.Sub(m.lastTrack).Seconds()
			d := m.input - m.pos
			switch {
			case d > step:
				m.pos += step
				m.vel = m.Slew
			case d < -step:
				m.pos -= step
				m.vel = -m.Slew
			default:
				m.pos = m.input
				m.vel = 0
			}
		}
	} else {
		m.vel = 0
	}
	m.lastTrack = now
}

// reset simulates the drive restarting.  mu must be held.
func (m *MockDrive) reset() {
	m.state = axis.DriveIdle
	m.calibrated = false
	m.input = 0
	m.vel, m.trq = 0, 0
	m.applied = m.saved
	m.down = m.Downtime
	m.closed = true
}

func (m *MockDrive) RequestState(s axis.DriveState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.advance()
	switch s {
	case axis.DriveFullCalibration:
		m.state = s
		m.calStart = time.Now()
	case axis.DriveClosedLoop:
		if !m.calibrated {
			// the firmware disarms
			m.errs.DisarmReason |= 1
			return nil
		}
		m.input = m.pos
		m.state = s
	default:
		m.state = s
	}
	return nil
}

func (m *MockDrive) CurrentState() (axis.DriveState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	m.advance()
	return m.state, nil
}

func (m *MockDrive) Position() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	m.advance()
	return m.pos, nil
}

func (m *MockDrive) Velocity() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	m.advance()
	return m.vel, nil
}

func (m *MockDrive) Torque() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	return m.trq, nil
}

func (m *MockDrive) SetInputPosition(turns float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.advance()
	m.input = turns
	return nil
}

func (m *MockDrive) SetInputVelocity(float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check()
}

func (m *MockDrive) SetInputTorque(nm float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.trq = nm
	return nil
}

func (m *MockDrive) BusVoltage() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	return m.Vbus, nil
}

func (m *MockDrive) Errors() (axis.DriveErrors, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return axis.DriveErrors{}, err
	}
	return m.errs, nil
}

func (m *MockDrive) ClearErrors() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.errs = axis.DriveErrors{}
	return nil
}

func (m *MockDrive) RebootRequired() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	return m.rebootNeeded, nil
}

func (m *MockDrive) ApplyConfig(cfg axis.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.Applies++
	m.applied = &cfg
	return nil
}

func (m *MockDrive) SaveConfig() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.Saves++
	m.saved = m.applied
	m.reset()
	return nil
}

func (m *MockDrive) EraseConfig() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.Erases++
	m.saved = nil
	m.rebootNeeded = false
	m.reset()
	return nil
}

func (m *MockDrive) Reboot() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.Reboots++
	m.reset()
	return nil
}

func (m *MockDrive) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Raw answers reads of a few properties, the way the drive would
func (m *MockDrive) Raw(cmd string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return "", err
	}
	m.advance()
	fields := strings.Fields(cmd)
	if len(fields) != 2 || fields[0] != "r" {
		return "", nil
	}
	switch fields[1] {
	case "vbus_voltage":
		return fmt.Sprint(m.Vbus), nil
	case "axis0.current_state":
		return fmt.Sprint(int(m.state)), nil
	case "axis0.pos_estimate":
		return fmt.Sprint(m.pos), nil
	case "axis0.controller.input_pos":
		return fmt.Sprint(m.input), nil
	}
	return "invalid property", nil
}
