package bench

import (
	"time"

	"github.com/nasa-jpl/forcebench/axis"
	"github.com/nasa-jpl/forcebench/loadcell"
	"github.com/nasa-jpl/forcebench/odrive"
	"github.com/nasa-jpl/forcebench/util"
)

// AxisSetup holds everything needed to find, provision and command the drive
type AxisSetup struct {
	// Port says where the drive is
	Port odrive.PortConfig `koanf:"port" yaml:"port"`

	// Drive is the parameter set written to the drive by provisioning
	Drive axis.Config `koanf:"drive" yaml:"drive"`

	// ProvisionOnConnect makes every connect also provision the drive
	ProvisionOnConnect bool `koanf:"provisionOnConnect" yaml:"provisionOnConnect"`

	Timing axis.Timing `koanf:"timing" yaml:"timing"`

	// Limits bounds commanded positions in degrees.  nil disables the check
	Limits *util.Limiter `koanf:"limits" yaml:"limits"`

	// CommandRate is the sustained number of motion commands per second
	// accepted over HTTP.  Zero or less is unlimited
	CommandRate float64 `koanf:"commandRate" yaml:"commandRate"`

	// CommandBurst is the number of motion commands that may arrive at once
	CommandBurst int `koanf:"commandBurst" yaml:"commandBurst"`
}

// LoadCellSetup holds the load cell's serial link
type LoadCellSetup struct {
	Addr string `koanf:"addr" yaml:"addr"`
	Baud int    `koanf:"baud" yaml:"baud"`

	Timing loadcell.Timing `koanf:"timing" yaml:"timing"`

	// Automatic puts the sensor into streaming mode and starts the
	// continuous reader when the load cell is connected
	Automatic bool `koanf:"automatic" yaml:"automatic"`
}

// TelemetrySetup holds the sampling and recording parameters
type TelemetrySetup struct {
	// Interval is the sampling period
	Interval time.Duration `koanf:"interval" yaml:"interval"`

	// Capacity is the number of samples kept in memory
	Capacity int `koanf:"capacity" yaml:"capacity"`

	// CSV is a file samples are appended to.  Empty disables it
	CSV string `koanf:"csv" yaml:"csv"`

	// Metrics exports the latest sample as Prometheus gauges
	Metrics bool `koanf:"metrics" yaml:"metrics"`
}

// Config is the configuration of a bench
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"addr" yaml:"addr"`

	// Mock replaces the drive and load cell with simulators
	Mock bool `koanf:"mock" yaml:"mock"`

	Axis      AxisSetup      `koanf:"axis" yaml:"axis"`
	LoadCell  LoadCellSetup  `koanf:"loadcell" yaml:"loadcell"`
	Telemetry TelemetrySetup `koanf:"telemetry" yaml:"telemetry"`
}

// DefaultConfig returns the configuration of the bench as built
func DefaultConfig() Config {
	return Config{
		Addr: ":8000",
		Axis: AxisSetup{
			Port: odrive.PortConfig{
				Baud:        odrive.DefaultBaud,
				ReadTimeout: 100 * time.Millisecond,
			},
			Drive:              axis.DefaultConfig(),
			ProvisionOnConnect: true,
			Timing:             axis.DefaultTiming(),
			CommandRate:        20,
			CommandBurst:       5,
		},
		LoadCell: LoadCellSetup{
			Addr:      "/dev/ttyACM0",
			Baud:      115200,
			Timing:    loadcell.DefaultTiming(),
			Automatic: true,
		},
		Telemetry: TelemetrySetup{
			Interval: 100 * time.Millisecond,
			Capacity: 6000,
			Metrics:  true,
		},
	}
}
