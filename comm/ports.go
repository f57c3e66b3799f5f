package comm

import (
	"strings"

	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
)

// ErrNoUSBSerial is generated when no USB serial port matches a search
var ErrNoUSBSerial = errors.New("no matching USB serial port found")

// PortInfo describes a serial port on this machine
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"isUSB"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
}

// ListPorts lists the serial ports on this machine
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "listing serial ports")
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		out = append(out, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	return out, nil
}

// FindUSBPort returns the name of the first USB serial port with the given
// vendor and product IDs (hex, case insensitive).  If serialNumber is not
// empty it must match too.
func FindUSBPort(vid, pid, serialNumber string) (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	return matchUSBPort(ports, vid, pid, serialNumber)
}

func matchUSBPort(ports []PortInfo, vid, pid, serialNumber string) (string, error) {
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if !strings.EqualFold(p.VID, vid) || !strings.EqualFold(p.PID, pid) {
			continue
		}
		if serialNumber != "" && p.SerialNumber != serialNumber {
			continue
		}
		return p.Name, nil
	}
	return "", errors.Wrapf(ErrNoUSBSerial, "vid=%s pid=%s", vid, pid)
}
