/*Package telemetry samples the axis and the load cell on a fixed interval.

Every tick the Aggregator reads position, velocity and torque from the axis
and the most recent force from the load cell, stamps them with the time,
appends the sample to a bounded history, and hands it to each Sink.

The history is a sliding window of the last N samples.  Compact is a manual
release valve that throws away the oldest 80% at once.
*/
package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nasa-jpl/forcebench/loadcell"
	"github.com/pkg/errors"
)

// CompactFraction is the share of the history Compact discards
const CompactFraction = 0.8

// ErrAlreadyRunning is generated when the poller is started twice
var ErrAlreadyRunning = errors.New("telemetry poller already running")

// Axis is the part of an axis that is sampled
type Axis interface {
	Position() (float64, error)
	Velocity() (float64, error)
	Torque() (float64, error)
}

// ForceSource provides the latest load cell record
type ForceSource interface {
	Latest() (loadcell.Sample, bool)
}

// Sample is one tick of telemetry.  Force is zero when no load cell reading
// is available.
type Sample struct {
	Time     time.Time `json:"time"`
	Position float64   `json:"pos"`
	Velocity float64   `json:"vel"`
	Torque   float64   `json:"torque"`
	Force    float64   `json:"force"`
}

// Series is a history laid out column-wise
type Series struct {
	Time     []time.Time `json:"time"`
	Position []float64   `json:"pos"`
	Velocity []float64   `json:"vel"`
	Torque   []float64   `json:"torque"`
	Force    []float64   `json:"force"`
}

// Len returns the number of samples in the series
func (s Series) Len() int {
	return len(s.Time)
}

// NewSeries lays samples out as columns
func NewSeries(samples []Sample) Series {
	n := len(samples)
	s := Series{
		Time:     make([]time.Time, n),
		Position: make([]float64, n),
		Velocity: make([]float64, n),
		Torque:   make([]float64, n),
		Force:    make([]float64, n),
	}
	for i, smp := range samples {
		s.Time[i] = smp.Time
		s.Position[i] = smp.Position
		s.Velocity[i] = smp.Velocity
		s.Torque[i] = smp.Torque
		s.Force[i] = smp.Force
	}
	return s
}

// Sink receives every sample
type Sink interface {
	Record(Sample) error
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(Sample) error

// Record calls f
func (f SinkFunc) Record(s Sample) error {
	return f(s)
}

// Aggregator polls an axis and a force source into a bounded history
type Aggregator struct {
	axis  Axis
	force ForceSource
	sinks []Sink

	// Now is the clock used to stamp samples
	Now func() time.Time

	mu      sync.Mutex
	hist    *History[Sample]
	latest  Sample
	have    bool
	lastErr string

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAggregator returns an Aggregator keeping up to capacity samples.  force
// may be nil, in which case force is always zero.
func NewAggregator(axis Axis, force ForceSource, capacity int, sinks ...Sink) *Aggregator {
	return &Aggregator{
		axis:  axis,
		force: force,
		sinks: sinks,
		Now:   time.Now,
		hist:  NewHistory[Sample](capacity),
	}
}

// Poll takes one sample, records it and passes it to the sinks
func (a *Aggregator) Poll() Sample {
	var errs []error
	pos, err := a.axis.Position()
	if err != nil {
		errs = append(errs, err)
	}
	vel, err := a.axis.Velocity()
	if err != nil {
		errs = append(errs, err)
	}
	trq, err := a.axis.Torque()
	if err != nil {
		errs = append(errs, err)
	}
	smp := Sample{Time: a.Now(), Position: pos, Velocity: vel, Torque: trq}
	if a.force != nil {
		if lc, ok := a.force.Latest(); ok {
			smp.Force = lc.Force()
		}
	}

	a.mu.Lock()
	a.hist.Append(smp)
	a.latest, a.have = smp, true
	a.noteErr(errs)
	a.mu.Unlock()

	for _, s := range a.sinks {
		if err := s.Record(smp); err != nil {
			log.Printf("telemetry: sink error: %v", err)
		}
	}
	return smp
}

// noteErr logs axis read failures when they change, not every tick.
// mu must be held.
func (a *Aggregator) noteErr(errs []error) {
	msg := ""
	if len(errs) > 0 {
		msg = errs[0].Error()
	}
	if msg == a.lastErr {
		return
	}
	if msg == "" {
		log.Println("telemetry: axis reads recovered")
	} else {
		log.Printf("telemetry: axis read failed, keeping last values: %s", msg)
	}
	a.lastErr = msg
}

// Start polls every interval in the background
func (a *Aggregator) Start(interval time.Duration) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.runner(ctx, interval, a.done)
	return nil
}

func (a *Aggregator) runner(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.Poll()
		case <-ctx.Done():
			return
		}
	}
}

// Running returns true while the background poller runs
func (a *Aggregator) Running() bool {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.cancel != nil
}

// Stop ends the background poller and waits for it.  It may be restarted.
func (a *Aggregator) Stop() {
	a.runMu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.runMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Latest returns the most recent sample.  The bool is false before the
// first poll or after Clear.
func (a *Aggregator) Latest() (Sample, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest, a.have
}

// Samples returns a copy of the history, oldest first
func (a *Aggregator) Samples() []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hist.Snapshot()
}

// Snapshot returns a copy of the history as columns
func (a *Aggregator) Snapshot() Series {
	return NewSeries(a.Samples())
}

// Len returns the number of samples held
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hist.Len()
}

// Compact discards the oldest CompactFraction of the history and returns
// the number of samples dropped
func (a *Aggregator) Compact() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hist.Compact(CompactFraction)
}

// Clear empties the history
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hist.Clear()
	a.have = false
}
