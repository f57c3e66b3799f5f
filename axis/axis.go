/*Package axis controls a single rotary axis driven by a closed-loop servo drive.

The Controller owns the axis state machine:

	Idle -> Calibrating -> Idle -> ClosedLoop <-> Idle
	any -> Faulted on a failed drive read or write, left only by Shutdown

Positions are reported and commanded in degrees relative to the home set by
SetHome.  The drive itself works in turns.
*/
package axis

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const degPerTurn = 360.

var (
	// ErrDeviceUnreachable is generated when the drive is not connected or
	// did not come back after a reset
	ErrDeviceUnreachable = errors.New("drive unreachable")

	// ErrStateTransitionTimeout is generated when the drive does not reach a
	// requested state in time
	ErrStateTransitionTimeout = errors.New("drive did not reach the requested state in time")

	// ErrCalibrationTimeout is generated when calibration does not finish in time
	ErrCalibrationTimeout = errors.New("calibration did not finish in time")

	// ErrNotReady is generated when a command is not valid in the current state
	ErrNotReady = errors.New("axis not ready")

	// ErrShutdown is generated for any command after Shutdown
	ErrShutdown = errors.Wrap(ErrNotReady, "controller shut down")

	// ErrRawUnsupported is generated when the drive has no raw command channel
	ErrRawUnsupported = errors.New("drive does not accept raw commands")

	errPollTimeout = errors.New("poll timed out")
)

// State is the state of the axis as the controller sees it
type State int

const (
	// Idle means the motor is not energized
	Idle State = iota

	// Calibrating means a calibration sequence is running
	Calibrating

	// ClosedLoop means the drive is servoing to the commanded position
	ClosedLoop

	// Faulted means the drive failed a read or write
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Calibrating:
		return "Calibrating"
	case ClosedLoop:
		return "ClosedLoop"
	case Faulted:
		return "Faulted"
	}
	return "Unknown"
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Setpoint is a commanded position in degrees with optional feed-forward
// velocity (deg/s) and torque (Nm)
type Setpoint struct {
	Position    float64  `json:"pos"`
	Velocity    *float64 `json:"vel,omitempty"`
	TorqueLimit *float64 `json:"torque,omitempty"`
}

// Timing holds the poll interval and the bounds of the blocking operations
type Timing struct {
	// PollInterval is the wait between state polls
	PollInterval time.Duration `koanf:"pollInterval" yaml:"pollInterval"`

	// CalibrationTimeout bounds Calibrate
	CalibrationTimeout time.Duration `koanf:"calibrationTimeout" yaml:"calibrationTimeout"`

	// TransitionTimeout bounds the wait for closed loop in SetHome
	TransitionTimeout time.Duration `koanf:"transitionTimeout" yaml:"transitionTimeout"`

	// ReacquireInterval is the wait between attempts to find the drive
	// after a reset
	ReacquireInterval time.Duration `koanf:"reacquireInterval" yaml:"reacquireInterval"`

	// ReacquireRetries is the number of retries after the first attempt
	ReacquireRetries uint64 `koanf:"reacquireRetries" yaml:"reacquireRetries"`
}

// DefaultTiming returns timing suited to a USB connected drive
func DefaultTiming() Timing {
	return Timing{
		PollInterval:       100 * time.Millisecond,
		CalibrationTimeout: 60 * time.Second,
		TransitionTimeout:  5 * time.Second,
		ReacquireInterval:  500 * time.Millisecond,
		ReacquireRetries:   10,
	}
}

// snapshot is swapped as a whole so readers never see a state from one
// update and an offset from another
type snapshot struct {
	state    State
	offset   float64 // degrees
	shutdown bool
}

// Controller is the state machine for one axis.  Commands are serialized;
// reads may run alongside them.
type Controller struct {
	connect Connector
	timing  Timing

	// cmdMu admits one command at a time
	cmdMu   sync.Mutex
	applied *Config

	driveMu sync.RWMutex
	drive   Drive

	snap atomic.Pointer[snapshot]

	lastMu  sync.Mutex
	lastPos float64
	lastVel float64
	lastTrq float64
}

// New returns an Idle controller which will use connect to find its drive.
// Nothing is opened until Connect.
func New(connect Connector, timing Timing) *Controller {
	c := &Controller{connect: connect, timing: timing}
	c.snap.Store(&snapshot{state: Idle})
	return c
}

// State returns the current state
func (c *Controller) State() State {
	return c.snap.Load().state
}

// Offset returns the homing offset in degrees
func (c *Controller) Offset() float64 {
	return c.snap.Load().offset
}

func (c *Controller) update(fn func(s *snapshot)) {
	for {
		old := c.snap.Load()
		next := *old
		fn(&next)
		if c.snap.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (c *Controller) setState(st State) {
	c.update(func(s *snapshot) {
		if s.state != Faulted {
			s.state = st
		}
	})
}

// fault moves the axis to Faulted and returns err for the caller
func (c *Controller) fault(err error) error {
	log.Printf("axis: drive error, axis faulted: %v", err)
	c.update(func(s *snapshot) { s.state = Faulted })
	return errors.Wrap(ErrDeviceUnreachable, err.Error())
}

// usable returns nil if commands other than reads are allowed
func (c *Controller) usable() error {
	s := c.snap.Load()
	if s.shutdown {
		return ErrShutdown
	}
	if s.state == Faulted {
		return errors.Wrap(ErrNotReady, "axis faulted")
	}
	return nil
}

func (c *Controller) handle() (Drive, error) {
	c.driveMu.RLock()
	defer c.driveMu.RUnlock()
	if c.drive == nil {
		return nil, ErrDeviceUnreachable
	}
	return c.drive, nil
}

// Connect finds the drive, retrying at a fixed interval
func (c *Controller) Connect() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	return c.reacquire()
}

// reacquire drops the current handle and finds the drive again.
// the caller holds cmdMu.
func (c *Controller) reacquire() error {
	c.driveMu.Lock()
	if c.drive != nil {
		c.drive.Close()
		c.drive = nil
	}
	c.driveMu.Unlock()

	var d Drive
	op := func() error {
		var err error
		d, err = c.connect()
		return err
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.timing.ReacquireInterval), c.timing.ReacquireRetries)
	if err := backoff.Retry(op, b); err != nil {
		return c.fault(errors.Wrapf(err, "drive did not reappear after %d attempts", c.timing.ReacquireRetries+1))
	}
	c.driveMu.Lock()
	c.drive = d
	c.driveMu.Unlock()
	return nil
}

// Configure provisions the drive with cfg.  The drive resets to take the new
// parameters and is found again before Configure returns.  Configuring with
// the parameters already applied does nothing.
func (c *Controller) Configure(cfg Config) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if c.applied != nil && *c.applied == cfg {
		return nil
	}
	d, err := c.handle()
	if err != nil {
		return err
	}
	required, err := d.RebootRequired()
	if err != nil {
		return c.fault(err)
	}
	if required {
		log.Println("axis: drive requires a reboot, erasing its configuration")
		// the drive resets while answering, an error here is expected
		d.EraseConfig()
		if err := c.reacquire(); err != nil {
			return err
		}
		if d, err = c.handle(); err != nil {
			return err
		}
		if err := d.ClearErrors(); err != nil {
			return c.fault(err)
		}
	}
	if err := d.ApplyConfig(cfg); err != nil {
		return c.fault(err)
	}
	d.SaveConfig()
	if err := c.reacquire(); err != nil {
		return err
	}
	applied := cfg
	c.applied = &applied
	c.setState(Idle)
	return nil
}

// await polls the drive until it reports want or timeout elapses
func (c *Controller) await(d Drive, want DriveState, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		time.Sleep(c.timing.PollInterval)
		st, err := d.CurrentState()
		if err != nil {
			return err
		}
		if st == want {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(errPollTimeout, "drive in %v", st)
		}
	}
}

// abandon returns the drive to idle after a state change timed out
func (c *Controller) abandon(d Drive) error {
	if err := d.RequestState(DriveIdle); err != nil {
		return c.fault(err)
	}
	c.setState(Idle)
	return nil
}

// Calibrate runs the drive's full calibration sequence and blocks until it
// finishes
func (c *Controller) Calibrate() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	d, err := c.handle()
	if err != nil {
		return err
	}
	if err := d.RequestState(DriveFullCalibration); err != nil {
		return c.fault(err)
	}
	c.setState(Calibrating)
	err = c.await(d, DriveIdle, c.timing.CalibrationTimeout)
	switch {
	case errors.Is(err, errPollTimeout):
		if ferr := c.abandon(d); ferr != nil {
			return ferr
		}
		return errors.Wrap(ErrCalibrationTimeout, err.Error())
	case err != nil:
		return c.fault(err)
	}
	c.setState(Idle)
	if de, err := d.Errors(); err == nil && de.Any() {
		log.Printf("axis: drive reports errors after calibration, active=%#x disarm=%#x", de.ActiveErrors, de.DisarmReason)
	}
	return nil
}

// SetHome enters closed loop and makes the current position zero.
// It returns the position afterwards.
func (c *Controller) SetHome() (float64, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if err := c.usable(); err != nil {
		return 0, err
	}
	d, err := c.handle()
	if err != nil {
		return 0, err
	}
	if err := d.RequestState(DriveClosedLoop); err != nil {
		return 0, c.fault(err)
	}
	err = c.await(d, DriveClosedLoop, c.timing.TransitionTimeout)
	switch {
	case errors.Is(err, errPollTimeout):
		if ferr := c.abandon(d); ferr != nil {
			return 0, ferr
		}
		return 0, errors.Wrap(ErrStateTransitionTimeout, err.Error())
	case err != nil:
		return 0, c.fault(err)
	}
	raw, err := d.Position()
	if err != nil {
		return 0, c.fault(err)
	}
	c.remember(&c.lastPos, raw)
	offset := raw * degPerTurn
	// hold where we are, the old input position is relative to the old home
	if err := d.SetInputPosition(raw); err != nil {
		return 0, c.fault(err)
	}
	c.update(func(s *snapshot) {
		if s.state != Faulted {
			s.state = ClosedLoop
			s.offset = offset
		}
	})
	return raw*degPerTurn - offset, nil
}

// Release de-energizes the motor.  Releasing an idle axis is fine.
func (c *Controller) Release() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	d, err := c.handle()
	if err != nil {
		return err
	}
	if err := d.RequestState(DriveIdle); err != nil {
		return c.fault(err)
	}
	c.setState(Idle)
	return nil
}

// SetPosition commands a position in degrees from home.  The axis must be
// in closed loop.
func (c *Controller) SetPosition(deg float64) error {
	return c.Apply(Setpoint{Position: deg})
}

// Apply commands a setpoint.  The axis must be in closed loop.
func (c *Controller) Apply(sp Setpoint) error {
	if c.State() != ClosedLoop {
		return ErrNotReady
	}
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	s := c.snap.Load()
	if s.shutdown || s.state != ClosedLoop {
		return ErrNotReady
	}
	d, err := c.handle()
	if err != nil {
		return err
	}
	if sp.Velocity != nil {
		if err := d.SetInputVelocity(*sp.Velocity / degPerTurn); err != nil {
			return c.fault(err)
		}
	}
	if sp.TorqueLimit != nil {
		if err := d.SetInputTorque(*sp.TorqueLimit); err != nil {
			return c.fault(err)
		}
	}
	if err := d.SetInputPosition((sp.Position + s.offset) / degPerTurn); err != nil {
		return c.fault(err)
	}
	return nil
}

func (c *Controller) remember(dst *float64, v float64) {
	c.lastMu.Lock()
	*dst = v
	c.lastMu.Unlock()
}

func (c *Controller) recall(src *float64) float64 {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	return *src
}

// read calls fcn on the drive.  On failure the last value read is returned
// with the error.
func (c *Controller) read(fcn func(Drive) (float64, error), last *float64) (float64, error) {
	d, err := c.handle()
	if err != nil {
		return c.recall(last), err
	}
	v, err := fcn(d)
	if err != nil {
		return c.recall(last), c.fault(err)
	}
	c.remember(last, v)
	return v, nil
}

// Position returns the position in degrees from home
func (c *Controller) Position() (float64, error) {
	offset := c.Offset()
	raw, err := c.read(Drive.Position, &c.lastPos)
	return raw*degPerTurn - offset, err
}

// Velocity returns the velocity in turns/s
func (c *Controller) Velocity() (float64, error) {
	return c.read(Drive.Velocity, &c.lastVel)
}

// Torque returns the estimated torque in Nm
func (c *Controller) Torque() (float64, error) {
	return c.read(Drive.Torque, &c.lastTrq)
}

// BusVoltage returns the drive's DC bus voltage
func (c *Controller) BusVoltage() (float64, error) {
	d, err := c.handle()
	if err != nil {
		return 0, err
	}
	return d.BusVoltage()
}

// Errors returns the drive's error words
func (c *Controller) Errors() (DriveErrors, error) {
	d, err := c.handle()
	if err != nil {
		return DriveErrors{}, err
	}
	return d.Errors()
}

// ClearErrors clears the drive's error words.  It does not leave Faulted.
func (c *Controller) ClearErrors() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.snap.Load().shutdown {
		return ErrShutdown
	}
	d, err := c.handle()
	if err != nil {
		return err
	}
	return d.ClearErrors()
}

// Shutdown idles the motor, clears the drive's errors and reboots it.
// The controller is unusable afterwards.
func (c *Controller) Shutdown() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.snap.Load().shutdown {
		return nil
	}
	var errs error
	c.driveMu.Lock()
	d := c.drive
	c.drive = nil
	c.driveMu.Unlock()
	if d != nil {
		errs = multierr.Append(errs, d.RequestState(DriveIdle))
		errs = multierr.Append(errs, d.ClearErrors())
		// the link drops as the drive resets
		d.Reboot()
		d.Close()
	}
	c.update(func(s *snapshot) {
		s.state = Idle
		s.shutdown = true
	})
	return errs
}

type rawer interface {
	Raw(string) (string, error)
}

// Raw passes cmd to the drive verbatim and returns its answer.  It is meant
// for diagnostics; the controller's state is not updated.
func (c *Controller) Raw(cmd string) (string, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.snap.Load().shutdown {
		return "", ErrShutdown
	}
	d, err := c.handle()
	if err != nil {
		return "", err
	}
	r, ok := d.(rawer)
	if !ok {
		return "", ErrRawUnsupported
	}
	return r.Raw(cmd)
}

// Close idles the motor and drops the drive handle without resetting the
// drive.  The controller is unusable afterwards.
func (c *Controller) Close() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.snap.Load().shutdown {
		return nil
	}
	var errs error
	c.driveMu.Lock()
	d := c.drive
	c.drive = nil
	c.driveMu.Unlock()
	if d != nil {
		errs = multierr.Append(errs, d.RequestState(DriveIdle))
		errs = multierr.Append(errs, d.Close())
	}
	c.update(func(s *snapshot) {
		s.state = Idle
		s.shutdown = true
	})
	return errs
}
