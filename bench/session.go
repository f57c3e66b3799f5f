/*Package bench assembles one force measurement bench: a servo axis, a load
cell, a step sequencer and a telemetry recorder, and serves them over HTTP.

A Session owns exactly one of each component.  The sequencer and the
recorder hold the session's Axis rather than a controller, so they survive
the drive being replaced on reconnect.
*/
package bench

import (
	"log"
	"sync"
	"time"

	"github.com/nasa-jpl/forcebench/axis"
	"github.com/nasa-jpl/forcebench/comm"
	"github.com/nasa-jpl/forcebench/loadcell"
	"github.com/nasa-jpl/forcebench/motion"
	"github.com/nasa-jpl/forcebench/odrive"
	"github.com/nasa-jpl/forcebench/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Axis forwards to the current axis controller.  Connect replaces a
// controller that has faulted or been shut down.
type Axis struct {
	setup   AxisSetup
	connect axis.Connector

	mu  sync.RWMutex
	ctl *axis.Controller
}

// NewAxis returns an Axis which finds its drive with connect.  Nothing is
// opened until Connect.
func NewAxis(setup AxisSetup, connect axis.Connector) *Axis {
	return &Axis{setup: setup, connect: connect}
}

func (a *Axis) current() (*axis.Controller, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.ctl == nil {
		return nil, axis.ErrDeviceUnreachable
	}
	return a.ctl, nil
}

// Connect finds the drive and, if so configured, provisions it
func (a *Axis) Connect() error {
	a.mu.Lock()
	if a.ctl != nil && a.ctl.State() == axis.Faulted {
		log.Println("bench: replacing faulted axis controller")
		a.ctl.Close()
		a.ctl = nil
	}
	if a.ctl == nil {
		a.ctl = axis.New(a.connect, a.setup.Timing)
	}
	ctl := a.ctl
	a.mu.Unlock()

	if err := ctl.Connect(); err != nil {
		return err
	}
	if a.setup.ProvisionOnConnect {
		return ctl.Configure(a.setup.Drive)
	}
	return nil
}

// Provision writes the configured parameter set to the drive
func (a *Axis) Provision() error {
	ctl, err := a.current()
	if err != nil {
		return err
	}
	return ctl.Configure(a.setup.Drive)
}

// Calibrate runs the drive's calibration sequence
func (a *Axis) Calibrate() error {
	ctl, err := a.current()
	if err != nil {
		return err
	}
	return ctl.Calibrate()
}

// Release idles the motor
func (a *Axis) Release() error {
	ctl, err := a.current()
	if err != nil {
		return err
	}
	return ctl.Release()
}

// Enabled is true while the axis servos
func (a *Axis) Enabled() bool {
	return a.State() == axis.ClosedLoop
}

// SetHome makes the present position zero and enters closed loop
func (a *Axis) SetHome() (float64, error) {
	ctl, err := a.current()
	if err != nil {
		return 0, err
	}
	return ctl.SetHome()
}

// SetPosition commands a position in degrees
func (a *Axis) SetPosition(deg float64) error {
	ctl, err := a.current()
	if err != nil {
		return err
	}
	return ctl.SetPosition(deg)
}

// Apply commands a setpoint
func (a *Axis) Apply(sp axis.Setpoint) error {
	ctl, err := a.current()
	if err != nil {
		return err
	}
	return ctl.Apply(sp)
}

// Position returns the position in degrees
func (a *Axis) Position() (float64, error) {
	ctl, err := a.current()
	if err != nil {
		return 0, err
	}
	return ctl.Position()
}

// Velocity returns the velocity in turns/s
func (a *Axis) Velocity() (float64, error) {
	ctl, err := a.current()
	if err != nil {
		return 0, err
	}
	return ctl.Velocity()
}

// Torque returns the torque estimate in Nm
func (a *Axis) Torque() (float64, error) {
	ctl, err := a.current()
	if err != nil {
		return 0, err
	}
	return ctl.Torque()
}

// State returns the controller state, Idle if there is no controller
func (a *Axis) State() axis.State {
	ctl, err := a.current()
	if err != nil {
		return axis.Idle
	}
	return ctl.State()
}

// BusVoltage returns the drive's DC bus voltage
func (a *Axis) BusVoltage() (float64, error) {
	ctl, err := a.current()
	if err != nil {
		return 0, err
	}
	return ctl.BusVoltage()
}

// Errors returns the drive's error words
func (a *Axis) Errors() (axis.DriveErrors, error) {
	ctl, err := a.current()
	if err != nil {
		return axis.DriveErrors{}, err
	}
	return ctl.Errors()
}

// ClearErrors clears the drive's error words
func (a *Axis) ClearErrors() error {
	ctl, err := a.current()
	if err != nil {
		return err
	}
	return ctl.ClearErrors()
}

// Raw passes a command to the drive verbatim
func (a *Axis) Raw(cmd string) (string, error) {
	ctl, err := a.current()
	if err != nil {
		return "", err
	}
	return ctl.Raw(cmd)
}

// Shutdown idles and reboots the drive.  A later Connect starts over with a
// new controller.
func (a *Axis) Shutdown() error {
	a.mu.Lock()
	ctl := a.ctl
	a.ctl = nil
	a.mu.Unlock()
	if ctl == nil {
		return nil
	}
	return ctl.Shutdown()
}

// Close idles the motor and lets go of the drive without resetting it
func (a *Axis) Close() error {
	a.mu.Lock()
	ctl := a.ctl
	a.ctl = nil
	a.mu.Unlock()
	if ctl == nil {
		return nil
	}
	return ctl.Close()
}

// LoadCell is a load cell link which, when automatic, starts streaming as
// part of connecting
type LoadCell struct {
	*loadcell.Link

	automatic bool
}

// Connect (re)opens the link and returns the sensor's startup message.  A
// running reader is stopped first.
func (l *LoadCell) Connect() (string, error) {
	if l.Reading() {
		if err := l.Link.Stop(); err != nil {
			log.Printf("bench: closing load cell, %v", err)
		}
	}
	banner, err := l.Link.Connect()
	if err != nil {
		return banner, err
	}
	if !l.automatic {
		return banner, nil
	}
	if err := l.SetAutomaticMode(); err != nil {
		return banner, err
	}
	return banner, l.StartContinuousRead(nil)
}

// Session is one bench
type Session struct {
	Config Config

	Axis      *Axis
	LoadCell  *LoadCell
	Sequencer *motion.Sequencer
	Telemetry *telemetry.Aggregator

	// Registry holds the telemetry gauges when metrics are enabled
	Registry *prometheus.Registry

	csv *telemetry.CSVSink
}

// NewSession builds a session from c.  Hardware is not touched until
// the axis or load cell is connected; in mock mode simulators stand in for
// both.
func NewSession(c Config) (*Session, error) {
	var (
		connect axis.Connector
		port    loadcell.Port
	)
	if c.Mock {
		drive := odrive.NewMockDrive()
		drive.Slew = 5
		connect = drive.Connector()
		sim := loadcell.NewSimulator(50 * time.Millisecond)
		port = comm.NewRemoteDeviceFromMaker("sim", sim.Maker(), comm.DefaultTerminators)
	} else {
		connect = odrive.Connector(c.Axis.Port)
		port = comm.NewRemoteDevice(c.LoadCell.Addr, c.LoadCell.Baud, comm.DefaultTerminators)
	}
	return newSession(c, connect, port)
}

func newSession(c Config, connect axis.Connector, port loadcell.Port) (*Session, error) {
	s := &Session{Config: c}
	s.Axis = NewAxis(c.Axis, connect)
	s.LoadCell = &LoadCell{Link: loadcell.New(port, c.LoadCell.Timing), automatic: c.LoadCell.Automatic}
	s.Sequencer = motion.New(s.Axis)
	s.Sequencer.Limit = c.Axis.Limits

	var sinks []telemetry.Sink
	if c.Telemetry.CSV != "" {
		csv, err := telemetry.OpenCSV(c.Telemetry.CSV)
		if err != nil {
			return nil, err
		}
		s.csv = csv
		sinks = append(sinks, csv)
	}
	if c.Telemetry.Metrics {
		s.Registry = prometheus.NewRegistry()
		m, err := telemetry.NewMetricsSink(s.Registry)
		if err != nil {
			return nil, multierr.Append(err, s.closeCSV())
		}
		sinks = append(sinks, m)
	}
	s.Telemetry = telemetry.NewAggregator(s.Axis, s.LoadCell, c.Telemetry.Capacity, sinks...)
	return s, nil
}

// Start begins sampling telemetry
func (s *Session) Start() error {
	return s.Telemetry.Start(s.Config.Telemetry.Interval)
}

func (s *Session) closeCSV() error {
	if s.csv == nil {
		return nil
	}
	return s.csv.Close()
}

// Close stops every background loop, idles the motor and closes the links.
// The drive keeps its configuration and is not reset.
func (s *Session) Close() error {
	s.Sequencer.Stop()
	s.Telemetry.Stop()
	var errs error
	errs = multierr.Append(errs, s.LoadCell.Stop())
	errs = multierr.Append(errs, s.Axis.Close())
	errs = multierr.Append(errs, s.closeCSV())
	return errs
}
