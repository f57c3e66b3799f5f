/*Package odrive drives ODrive brushless servo drives over their ASCII protocol.

Each command is one line:

	r <property>            read, the drive answers with the value
	w <property> <value>    write, no answer
	ss / se / sr / sc       save config, erase config, reboot, clear errors

Save, erase and reboot reset the drive and the USB device re-enumerates,
so the port must be found and opened again afterwards.
*/
package odrive

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/forcebench/axis"
	"github.com/nasa-jpl/forcebench/comm"
	"github.com/pkg/errors"
)

const (
	// VendorID is the USB vendor ID of ODrive devices
	VendorID = "1209"

	// ProductID is the USB product ID of ODrive devices
	ProductID = "0D32"

	// DefaultBaud is the baud rate of the UART interface, USB ignores it
	DefaultBaud = 115200

	// readbackTolerance is relative; the drive stores float32
	readbackTolerance = 1e-5
)

// ErrInvalidCommand is generated when the drive rejects a command or property
var ErrInvalidCommand = errors.New("drive rejected command")

// PortConfig says how to find the drive
type PortConfig struct {
	// Addr is the serial port.  If empty the first USB device with the
	// ODrive vendor and product IDs is used
	Addr string `koanf:"addr" yaml:"addr"`

	// SerialNumber restricts the USB search to one drive
	SerialNumber string `koanf:"serialNumber" yaml:"serialNumber"`

	Baud int `koanf:"baud" yaml:"baud"`

	ReadTimeout time.Duration `koanf:"readTimeout" yaml:"readTimeout"`
}

// Device is an ODrive on a serial link
type Device struct {
	*comm.RemoteDevice
}

// NewDevice wraps a RemoteDevice.  The device is not opened.
func NewDevice(rd *comm.RemoteDevice) *Device {
	return &Device{RemoteDevice: rd}
}

// Open opens and probes the drive on a serial port.  readTimeout bounds each
// read; openTimeout bounds the retries while the port enumerates.
func Open(addr string, baud int, readTimeout, openTimeout time.Duration) (*Device, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	rd := comm.NewRemoteDeviceFromMaker(addr, comm.SerialMaker(addr, baud, readTimeout), comm.DefaultTerminators)
	rd.OpenTimeout = openTimeout
	if err := rd.Open(); err != nil {
		return nil, err
	}
	d := NewDevice(rd)
	if _, err := d.BusVoltage(); err != nil {
		d.Close()
		return nil, errors.Wrap(err, "probing drive")
	}
	return d, nil
}

// Connector returns an axis.Connector that finds, opens and probes the drive
func Connector(cfg PortConfig) axis.Connector {
	return func() (axis.Drive, error) {
		addr := cfg.Addr
		if addr == "" {
			var err error
			addr, err = comm.FindUSBPort(VendorID, ProductID, cfg.SerialNumber)
			if err != nil {
				return nil, err
			}
		}
		// the caller retries at its own pace
		d, err := Open(addr, cfg.Baud, cfg.ReadTimeout, 250*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

func rejected(resp string) bool {
	lower := strings.ToLower(resp)
	return strings.HasPrefix(lower, "invalid") || strings.HasPrefix(lower, "unknown")
}

// ReadProperty reads a property as text
func (d *Device) ReadProperty(prop string) (string, error) {
	resp, err := d.SendRecv([]byte("r " + prop))
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", prop)
	}
	s := strings.TrimSpace(string(resp))
	if rejected(s) {
		return "", errors.Wrapf(ErrInvalidCommand, "r %s: %s", prop, s)
	}
	return s, nil
}

// WriteProperty writes a property
func (d *Device) WriteProperty(prop, value string) error {
	err := d.SendLocked([]byte("w " + prop + " " + value))
	return errors.Wrapf(err, "writing %s", prop)
}

// parseValue parses the drive's rendering of a number or bool
func parseValue(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func (d *Device) readFloat(prop string) (float64, error) {
	s, err := d.ReadProperty(prop)
	if err != nil {
		return 0, err
	}
	f, err := parseValue(s)
	return f, errors.Wrapf(err, "parsing %s", prop)
}

func (d *Device) readUint(prop string) (uint32, error) {
	f, err := d.readFloat(prop)
	return uint32(f), err
}

func (d *Device) writeFloat(prop string, f float64) error {
	return d.WriteProperty(prop, strconv.FormatFloat(f, 'g', -1, 64))
}

// RequestState asks the axis to enter a state
func (d *Device) RequestState(s axis.DriveState) error {
	return d.WriteProperty("axis0.requested_state", strconv.Itoa(int(s)))
}

// CurrentState returns the state the axis is in
func (d *Device) CurrentState() (axis.DriveState, error) {
	f, err := d.readFloat("axis0.current_state")
	return axis.DriveState(f), err
}

// Position returns the estimated position in turns
func (d *Device) Position() (float64, error) {
	return d.readFloat("axis0.pos_estimate")
}

// Velocity returns the estimated velocity in turns/s
func (d *Device) Velocity() (float64, error) {
	return d.readFloat("axis0.vel_estimate")
}

// Torque returns the estimated torque in Nm
func (d *Device) Torque() (float64, error) {
	return d.readFloat("axis0.motor.torque_estimate")
}

// SetInputPosition sets the position input in turns
func (d *Device) SetInputPosition(turns float64) error {
	return d.writeFloat("axis0.controller.input_pos", turns)
}

// SetInputVelocity sets the velocity input (feed-forward in position control) in turns/s
func (d *Device) SetInputVelocity(tps float64) error {
	return d.writeFloat("axis0.controller.input_vel", tps)
}

// SetInputTorque sets the torque input (feed-forward in position control) in Nm
func (d *Device) SetInputTorque(nm float64) error {
	return d.writeFloat("axis0.controller.input_torque", nm)
}

// BusVoltage returns the DC bus voltage
func (d *Device) BusVoltage() (float64, error) {
	return d.readFloat("vbus_voltage")
}

// Errors returns the axis error words
func (d *Device) Errors() (axis.DriveErrors, error) {
	var (
		e   axis.DriveErrors
		err error
	)
	if e.ActiveErrors, err = d.readUint("axis0.active_errors"); err != nil {
		return e, err
	}
	e.DisarmReason, err = d.readUint("axis0.disarm_reason")
	return e, err
}

// ClearErrors clears the error words
func (d *Device) ClearErrors() error {
	return errors.Wrap(d.SendLocked([]byte("sc")), "clearing errors")
}

// RebootRequired returns true if the configuration needs a reboot to take effect
func (d *Device) RebootRequired() (bool, error) {
	f, err := d.readFloat("reboot_required")
	return f != 0, err
}

// ApplyConfig writes every parameter of cfg and reads each back
func (d *Device) ApplyConfig(cfg axis.Config) error {
	for _, p := range cfg.Properties() {
		if err := d.WriteProperty(p.Path, p.Value); err != nil {
			return err
		}
		got, err := d.readFloat(p.Path)
		if err != nil {
			return err
		}
		want, err := parseValue(p.Value)
		if err != nil {
			return errors.Wrapf(err, "parsing %s value %s", p.Path, p.Value)
		}
		if !near(got, want) {
			return errors.Wrapf(ErrInvalidCommand, "%s set to %s, drive holds %v", p.Path, p.Value, got)
		}
	}
	return nil
}

func near(a, b float64) bool {
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	return math.Abs(a-b) <= readbackTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// SaveConfig stores the configuration, the drive resets
func (d *Device) SaveConfig() error {
	return d.SendLocked([]byte("ss"))
}

// EraseConfig restores factory configuration, the drive resets
func (d *Device) EraseConfig() error {
	return d.SendLocked([]byte("se"))
}

// Reboot resets the drive
func (d *Device) Reboot() error {
	return d.SendLocked([]byte("sr"))
}

// Raw sends a command and returns the answer.  Commands that have no
// answer return an empty string.
func (d *Device) Raw(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	switch {
	case strings.HasPrefix(cmd, "w "), cmd == "ss", cmd == "se", cmd == "sr", cmd == "sc":
		return "", d.SendLocked([]byte(cmd))
	}
	resp, err := d.SendRecv([]byte(cmd))
	return string(resp), err
}
