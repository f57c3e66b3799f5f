/*Package loadcell talks to a load cell amplifier behind a microcontroller.

The sensor speaks a line protocol: it prints one JSON object per line,
either on its own (automatic mode) or in answer to a query, and accepts
single byte commands:

	a	automatic mode, stream records continuously
	c	calibrate, followed by the known weight as text
	t	tare
	g	print one record
*/
package loadcell

import (
	"bytes"
	"context"
	"io"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nasa-jpl/forcebench/comm"
	"github.com/pkg/errors"
)

const (
	opAutomatic = 'a'
	opCalibrate = 'c'
	opTare      = 't'
	opQuery     = 'g'
)

var (
	// ErrLinkNotConnected is generated when a command is sent on a closed link
	ErrLinkNotConnected = errors.New("load cell link not connected")

	// ErrCalibrationLink is generated when I/O fails during a calibrate or tare handshake
	ErrCalibrationLink = errors.New("load cell handshake failed")

	// ErrAlreadyRunning is generated when continuous reading is started twice
	ErrAlreadyRunning = errors.New("continuous read already running")
)

// Port is the byte link to the sensor.  *comm.RemoteDevice satisfies it.
type Port interface {
	io.ReadWriteCloser
	Open() error
	IsOpen() bool
	Drain() ([]byte, error)
}

// Timing holds the settle delays of the handshakes and the reader's waits
type Timing struct {
	// ModeSettle is the wait after the automatic mode command
	ModeSettle time.Duration `koanf:"modeSettle" yaml:"modeSettle"`

	// CalibrateSettle is the wait after each phase of the calibration handshake
	CalibrateSettle time.Duration `koanf:"calibrateSettle" yaml:"calibrateSettle"`

	// TareSettle is the wait after the tare command
	TareSettle time.Duration `koanf:"tareSettle" yaml:"tareSettle"`

	// QuerySettle is the wait between a query and reading its answer
	QuerySettle time.Duration `koanf:"querySettle" yaml:"querySettle"`

	// QueryTimeout bounds the wait for the answer to a query
	QueryTimeout time.Duration `koanf:"queryTimeout" yaml:"queryTimeout"`

	// IdleWait is the reader's pause after a read that returned nothing
	IdleWait time.Duration `koanf:"idleWait" yaml:"idleWait"`

	// ErrorWait is the reader's pause after a failed read
	ErrorWait time.Duration `koanf:"errorWait" yaml:"errorWait"`
}

// DefaultTiming returns the delays the sensor firmware is known to work with
func DefaultTiming() Timing {
	return Timing{
		ModeSettle:      50 * time.Millisecond,
		CalibrateSettle: 200 * time.Millisecond,
		TareSettle:      200 * time.Millisecond,
		QuerySettle:     100 * time.Millisecond,
		QueryTimeout:    2 * time.Second,
		IdleWait:        10 * time.Millisecond,
		ErrorWait:       500 * time.Millisecond,
	}
}

// Link is a connection to a load cell.  Handshakes and the continuous reader
// share the port one at a time.
type Link struct {
	port   Port
	timing Timing

	// ioMu serializes use of the port
	ioMu sync.Mutex
	// resync tells the reader to drop its partial line, guarded by ioMu
	resync bool

	latest atomic.Pointer[Sample]

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Link on port.  The port is not opened.
func New(port Port, timing Timing) *Link {
	return &Link{port: port, timing: timing}
}

// NewSerial returns a Link on a serial port
func NewSerial(addr string, baud int, timing Timing) *Link {
	rd := comm.NewRemoteDevice(addr, baud, comm.DefaultTerminators)
	return New(rd, timing)
}

// Connect (re)opens the port and returns whatever the sensor printed on startup
func (l *Link) Connect() (string, error) {
	if l.Reading() {
		return "", ErrAlreadyRunning
	}
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	if l.port.IsOpen() {
		l.port.Close()
	}
	if err := l.port.Open(); err != nil {
		return "", errors.Wrapf(ErrLinkNotConnected, "opening: %v", err)
	}
	banner, err := l.port.Drain()
	if err != nil {
		log.Printf("load cell: error reading startup message, %v", err)
	}
	return string(banner), nil
}

// Connected returns true if the port is open
func (l *Link) Connected() bool {
	return l.port.IsOpen()
}

// SetAutomaticMode puts the sensor in streaming mode
func (l *Link) SetAutomaticMode() error {
	if !l.port.IsOpen() {
		return ErrLinkNotConnected
	}
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	if _, err := l.port.Write([]byte{opAutomatic}); err != nil {
		if errors.Is(err, comm.ErrNotConnected) {
			return errors.Wrapf(ErrLinkNotConnected, "setting automatic mode: %v", err)
		}
		return errors.Wrap(err, "setting automatic mode")
	}
	time.Sleep(l.timing.ModeSettle)
	return nil
}

// CalibrateKnownWeight runs the calibration handshake with a known weight on
// the cell and returns the sensor's response text
func (l *Link) CalibrateKnownWeight(weight float64) (string, error) {
	w := strconv.FormatFloat(weight, 'f', -1, 64)
	return l.handshake(l.timing.CalibrateSettle, []byte{opCalibrate}, []byte(w))
}

// Tare zeroes the sensor and returns its response text
func (l *Link) Tare() (string, error) {
	return l.handshake(l.timing.TareSettle, []byte{opTare})
}

// handshake drains the port, writes each message followed by a settle delay,
// then drains and returns the response.  Drains are best-effort.
func (l *Link) handshake(settle time.Duration, msgs ...[]byte) (string, error) {
	if !l.port.IsOpen() {
		return "", ErrLinkNotConnected
	}
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	l.resync = true
	l.port.Drain()
	for _, msg := range msgs {
		if _, err := l.port.Write(msg); err != nil {
			return "", errors.Wrapf(ErrCalibrationLink, "writing %q: %v", msg, err)
		}
		time.Sleep(settle)
	}
	resp, err := l.port.Drain()
	if err != nil {
		log.Printf("load cell: error draining handshake response, %v", err)
	}
	return string(resp), nil
}

// QueryForceOnce asks the sensor for one record.  The bool is false if no
// record could be read or decoded.  While the continuous reader owns the
// stream the last record it decoded is returned instead.
func (l *Link) QueryForceOnce() (Sample, bool) {
	if l.Reading() {
		return l.Latest()
	}
	if !l.port.IsOpen() {
		return Sample{}, false
	}
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	if _, err := l.port.Write([]byte{opQuery}); err != nil {
		log.Printf("load cell: query failed, %v", err)
		return Sample{}, false
	}
	time.Sleep(l.timing.QuerySettle)
	line, err := l.readLine(l.timing.QueryTimeout)
	if err != nil {
		log.Printf("load cell: query failed, %v", err)
		return Sample{}, false
	}
	s, err := ParseSample(line)
	if err != nil {
		log.Printf("load cell: %v", err)
		return Sample{}, false
	}
	l.latest.Store(&s)
	return s, true
}

// readLine reads until a non-empty line arrives or timeout elapses.
// the caller holds ioMu.
func (l *Link) readLine(timeout time.Duration) ([]byte, error) {
	var (
		fr       Framer
		buf      = make([]byte, 256)
		deadline = time.Now().Add(timeout)
	)
	for time.Now().Before(deadline) {
		n, err := l.port.Read(buf)
		if err != nil {
			return nil, err
		}
		for _, line := range fr.Feed(buf[:n]) {
			if len(bytes.TrimSpace(line)) != 0 {
				return line, nil
			}
		}
		if n == 0 {
			time.Sleep(l.timing.IdleWait)
		}
	}
	return nil, comm.ErrTimeout
}

// Latest returns the most recent decoded record.  The bool is false if there
// has not been one.
func (l *Link) Latest() (Sample, bool) {
	s := l.latest.Load()
	if s == nil {
		return Sample{}, false
	}
	return *s, true
}

// Reading returns true while the continuous reader is running
func (l *Link) Reading() bool {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	return l.cancel != nil
}

// StartContinuousRead starts a background reader that decodes every record
// the sensor prints and calls cb with it.  cb may be nil; Latest is updated
// either way.  Malformed lines are logged and skipped.
func (l *Link) StartContinuousRead(cb func(Sample)) error {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyRunning
	}
	if !l.port.IsOpen() {
		return ErrLinkNotConnected
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.reader(ctx, cb, l.done)
	return nil
}

// Stop ends the continuous reader, waits for it to exit, then closes the port
func (l *Link) Stop() error {
	l.runMu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.runMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	return l.port.Close()
}

func (l *Link) reader(ctx context.Context, cb func(Sample), done chan struct{}) {
	defer close(done)
	var (
		fr  Framer
		buf = make([]byte, 512)
	)
	for {
		if ctx.Err() != nil {
			return
		}
		lines, n, err := l.readChunk(&fr, buf)
		if err != nil {
			if errors.Is(err, comm.ErrNotConnected) {
				log.Println("load cell: link closed, continuous read stopped")
				return
			}
			log.Printf("load cell: read error, %v", err)
			if !sleepCtx(ctx, l.timing.ErrorWait) {
				return
			}
			continue
		}
		for _, line := range lines {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			s, err := ParseSample(line)
			if err != nil {
				log.Printf("load cell: %v", err)
				continue
			}
			l.latest.Store(&s)
			if cb != nil {
				cb(s)
			}
		}
		if n == 0 && !sleepCtx(ctx, l.timing.IdleWait) {
			return
		}
	}
}

// readChunk reads once and frames what arrived
func (l *Link) readChunk(fr *Framer, buf []byte) ([][]byte, int, error) {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	if l.resync {
		// a handshake drained the port, the partial line is gone
		fr.Reset()
		l.resync = false
	}
	n, err := l.port.Read(buf)
	if err != nil {
		return nil, n, err
	}
	return fr.Feed(buf[:n]), n, nil
}

// sleepCtx waits for d or until ctx is done, returning false in the latter case
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
