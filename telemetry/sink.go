package telemetry

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

var csvHeader = []string{"time", "position", "velocity", "torque", "force"}

// CSVSink writes one row per sample
type CSVSink struct {
	mu sync.Mutex
	w  *csv.Writer
	c  io.Closer
}

// NewCSVSink writes a header to w and returns a sink appending rows to it
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	s := &CSVSink{w: csv.NewWriter(w)}
	if err := s.write(csvHeader); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenCSV appends to the file at path, creating it with a header if needed
func OpenCSV(path string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &CSVSink{w: csv.NewWriter(f), c: f}
	if fi.Size() == 0 {
		if err := s.write(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *CSVSink) write(rec []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(rec); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Record writes smp as a row
func (s *CSVSink) Record(smp Sample) error {
	return s.write([]string{
		smp.Time.Format(time.RFC3339Nano),
		ftoa(smp.Position),
		ftoa(smp.Velocity),
		ftoa(smp.Torque),
		ftoa(smp.Force),
	})
}

// Close flushes and closes the file, if the sink owns one
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	err := s.w.Error()
	if s.c != nil {
		err = multierr.Append(err, s.c.Close())
	}
	return err
}

// MetricsSink exposes the latest sample as Prometheus gauges
type MetricsSink struct {
	pos, vel, trq, force prometheus.Gauge
	samples              prometheus.Counter
}

// NewMetricsSink creates the gauges and registers them with reg
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "forcebench",
			Subsystem: "telemetry",
			Name:      name,
			Help:      help,
		})
	}
	m := &MetricsSink{
		pos:   gauge("position_degrees", "Axis position from home."),
		vel:   gauge("velocity_turns_per_second", "Axis velocity."),
		trq:   gauge("torque_newton_meters", "Estimated motor torque."),
		force: gauge("force_kilograms", "Load cell reading."),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forcebench",
			Subsystem: "telemetry",
			Name:      "samples_total",
			Help:      "Number of telemetry samples taken.",
		}),
	}
	var errs error
	for _, c := range []prometheus.Collector{m.pos, m.vel, m.trq, m.force, m.samples} {
		errs = multierr.Append(errs, reg.Register(c))
	}
	if errs != nil {
		return nil, errs
	}
	return m, nil
}

// Record updates the gauges
func (m *MetricsSink) Record(s Sample) error {
	m.pos.Set(s.Position)
	m.vel.Set(s.Velocity)
	m.trq.Set(s.Torque)
	m.force.Set(s.Force)
	m.samples.Inc()
	return nil
}
