package loadcell

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/nasa-jpl/forcebench/comm"
)

// simCountsPerKg is the gain of the simulated amplifier
const simCountsPerKg = 21000

// Simulator is a fake sensor speaking the load cell protocol.  It is used
// for dry runs without hardware.
type Simulator struct {
	sync.Mutex

	// Period is the interval between records in automatic mode
	Period time.Duration

	out        []byte
	automatic  bool
	awaitingKg bool
	zero       float64
	factor     float64
	known      float64
	calibrated bool
	last       time.Time
	start      time.Time
	closed     bool
}

// NewSimulator returns a simulated sensor that prints a banner on startup
func NewSimulator(period time.Duration) *Simulator {
	s := &Simulator{Period: period, factor: 1, start: time.Now()}
	s.out = []byte("HX711 load cell ready\n")
	return s
}

// Maker returns a CreationFunc for use with comm.NewRemoteDeviceFromMaker
func (s *Simulator) Maker() comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		s.Lock()
		s.closed = false
		s.Unlock()
		return s, nil
	}
}

func (s *Simulator) adc(now time.Time) float64 {
	t := now.Sub(s.start).Seconds()
	return 84210 + 1500*math.Sin(t)
}

func (s *Simulator) record(now time.Time) []byte {
	adc := s.adc(now)
	smp := Sample{
		ADCValue:         adc,
		ZeroOffset:       s.zero,
		OffsetCorrected:  adc - s.zero,
		IsCalibrated:     Flag(s.calibrated),
		KnownWeight:      s.known,
		CalibrationValue: s.factor,
		CalculatedWeight: (adc - s.zero) / s.factor,
	}
	b, _ := json.Marshal(smp)
	return append(b, '\n')
}

// Read returns pending output, emitting a record if one is due
func (s *Simulator) Read(p []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	now := time.Now()
	if s.automatic && now.Sub(s.last) >= s.Period {
		s.out = append(s.out, s.record(now)...)
		s.last = now
	}
	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

// Write interprets commands
func (s *Simulator) Write(p []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	now := time.Now()
	if s.awaitingKg {
		s.awaitingKg = false
		kg, err := strconv.ParseFloat(string(p), 64)
		if err != nil || kg == 0 {
			s.out = append(s.out, "invalid weight\n"...)
			return len(p), nil
		}
		s.known = kg
		s.factor = simCountsPerKg
		s.calibrated = true
		s.out = append(s.out, fmt.Sprintf("calibration value %.3f\n", s.factor)...)
		return len(p), nil
	}
	for _, b := range p {
		switch b {
		case opAutomatic:
			s.automatic = true
		case opCalibrate:
			s.awaitingKg = true
			s.out = append(s.out, "send known weight\n"...)
		case opTare:
			s.zero = s.adc(now)
			s.out = append(s.out, "tare complete\n"...)
		case opQuery:
			s.out = append(s.out, s.record(now)...)
		}
	}
	return len(p), nil
}

// Close closes the simulated port
func (s *Simulator) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}
