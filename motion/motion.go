// Package motion runs scripted step sequences against an axis.
//
// A sequence is an ordered list of steps; each step commands a position and
// then dwells there.  The dwell is interruptible, so a stop takes effect
// without waiting out the current step.  The last commanded position stays
// in force after a stop.
package motion

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"sync"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/nasa-jpl/forcebench/util"
	"github.com/pkg/errors"
)

var (
	// ErrAlreadyRunning is generated when a sequence is started while one is active
	ErrAlreadyRunning = errors.New("a sequence is already running")

	// ErrBadStep is generated for steps that cannot be run
	ErrBadStep = errors.New("invalid step")

	// ErrOutOfRange is generated when a step targets a position outside the
	// travel limits
	ErrOutOfRange = errors.New("step target violates software limits")
)

// Positioner is the part of an axis a sequence drives
type Positioner interface {
	SetPosition(float64) error
}

// Step is one move of a sequence: a target position and the time to hold
// it before the next step
type Step struct {
	Target float64       `yaml:"target"`
	Dwell  time.Duration `yaml:"dwell"`
}

type stepJSON struct {
	Target float64         `json:"target"`
	Dwell  json.RawMessage `json:"dwell"`
}

// UnmarshalJSON accepts the dwell as a duration string ("1.5s") or a number
// of seconds
func (s *Step) UnmarshalJSON(b []byte) error {
	var raw stepJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Target = raw.Target
	s.Dwell = 0
	if len(raw.Dwell) == 0 {
		return nil
	}
	var str string
	if err := json.Unmarshal(raw.Dwell, &str); err == nil {
		d, err := time.ParseDuration(str)
		if err != nil {
			return errors.Wrapf(ErrBadStep, "dwell %q: %v", str, err)
		}
		s.Dwell = d
		return nil
	}
	var secs float64
	if err := json.Unmarshal(raw.Dwell, &secs); err != nil {
		return errors.Wrapf(ErrBadStep, "dwell %s is neither a duration nor seconds", raw.Dwell)
	}
	s.Dwell = util.SecsToDuration(secs)
	return nil
}

// MarshalJSON writes the dwell as a duration string
func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Target float64 `json:"target"`
		Dwell  string  `json:"dwell"`
	}{s.Target, s.Dwell.String()})
}

// Validate returns ErrBadStep if any step has a negative dwell
func Validate(steps []Step) error {
	for i, s := range steps {
		if s.Dwell < 0 {
			return errors.Wrapf(ErrBadStep, "step %d has negative dwell %v", i, s.Dwell)
		}
	}
	return nil
}

// ParseSteps decodes a YAML list of steps, e.g.
//
//	- target: 300
//	  dwell: 2s
//	- target: 400
//	  dwell: 1s
func ParseSteps(b []byte) ([]Step, error) {
	var steps []Step
	if err := yaml.Unmarshal(b, &steps); err != nil {
		return nil, errors.Wrap(err, "decoding steps")
	}
	return steps, Validate(steps)
}

// LoadSteps reads a YAML step file
func LoadSteps(path string) ([]Step, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSteps(b)
}

// Status describes the current or most recent run
type Status struct {
	Running bool `json:"running"`

	// Step is the index of the step being run, -1 before the first
	Step int `json:"step"`

	// Steps is the length of the sequence
	Steps int `json:"steps"`

	// Completed is the number of steps whose dwell ran out
	Completed int `json:"completed"`

	// Err is the failure that ended the run, if any
	Err string `json:"err,omitempty"`
}

// Sequencer runs one sequence at a time
type Sequencer struct {
	pos Positioner

	// Limit, if not nil, bounds every step target.  A sequence with any
	// target outside it is refused before the first move.
	Limit *util.Limiter

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	status Status
}

// New returns a Sequencer driving p
func New(p Positioner) *Sequencer {
	return &Sequencer{pos: p, status: Status{Step: -1}}
}

// running is called with mu held
func (s *Sequencer) running() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Running returns true while a sequence is active
func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running()
}

// Status returns the status of the current or most recent run
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start runs steps in the background.  The steps are copied.
func (s *Sequencer) Start(steps []Step) error {
	if err := Validate(steps); err != nil {
		return err
	}
	if s.Limit != nil {
		for i, st := range steps {
			if !s.Limit.Check(st.Target) {
				return errors.Wrapf(ErrOutOfRange, "step %d targets %v, limits are [%v, %v]", i, st.Target, s.Limit.Min, s.Limit.Max)
			}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running() {
		return ErrAlreadyRunning
	}
	own := make([]Step, len(steps))
	copy(own, steps)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.status = Status{Running: true, Step: -1, Steps: len(own)}
	log.Printf("motion: starting sequence of %d steps", len(own))
	go s.run(ctx, own, s.done)
	return nil
}

func (s *Sequencer) run(ctx context.Context, steps []Step, done chan struct{}) {
	defer close(done)
	var failure error
	defer func() {
		s.mu.Lock()
		s.status.Running = false
		if failure != nil {
			s.status.Err = failure.Error()
		}
		s.mu.Unlock()
	}()
	for i, st := range steps {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		s.status.Step = i
		s.mu.Unlock()
		if err := s.pos.SetPosition(st.Target); err != nil {
			failure = errors.Wrapf(err, "step %d", i)
			log.Printf("motion: sequence ended at step %d: %v", i, err)
			return
		}
		if !dwell(ctx, st.Dwell) {
			log.Printf("motion: sequence stopped during step %d", i)
			return
		}
		s.mu.Lock()
		s.status.Completed++
		s.mu.Unlock()
	}
	log.Println("motion: sequence complete")
}

// dwell waits for d and returns false if ctx ended first
func dwell(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stop cancels the running sequence and returns once it has ended.
// Stopping when nothing runs does nothing.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current sequence ends
func (s *Sequencer) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}
