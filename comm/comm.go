/*Package comm provides embeddable types for communication with lab hardware
over local serial links.

Most usages of this package will boil down to:
	1.  make a RemoteDevice for the port your hardware is on, with the
		terminators it speaks.
	2.  Open it.
	3.  use SendRecv for request/response protocols, or Read and Drain
		for devices that stream on their own.

A minimal example for a sensor that responds to "RD?" with a reading:

	rd := comm.NewRemoteDevice("/dev/ttyUSB0", 9600, comm.DefaultTerminators)
	if err := rd.Open(); err != nil {
		return 0, err
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("RD?"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(string(resp), 64)
*/
package comm

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

const (
	// DefaultReadTimeout is the serial read timeout used when none is given
	DefaultReadTimeout = 100 * time.Millisecond

	// DefaultOpenTimeout bounds the total time Open spends retrying
	DefaultOpenTimeout = 3 * time.Second

	maxDrainReads = 64
)

var (
	// ErrNotConnected is generated when the device is not open and I/O is attempted
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrTimeout is generated when a response does not arrive before the read timeout
	ErrTimeout = errors.New("timed out waiting for response")

	// DefaultTerminators are line feeds in both directions
	DefaultTerminators = Terminators{Rx: '\n', Tx: '\n'}
)

// CreationFunc is a function that opens a new connection to a device
type CreationFunc func() (io.ReadWriteCloser, error)

// Terminators holds the receipt and transmission termination bytes
type Terminators struct {
	Rx byte
	Tx byte
}

// SerialMaker returns a CreationFunc that opens a serial port
func SerialMaker(addr string, baud int, readTimeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		p, err := serial.OpenPort(makeSerConf(addr, baud, readTimeout))
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func makeSerConf(addr string, baud int, readTimeout time.Duration) *serial.Config {
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout,
	}
}

/*RemoteDevice is a byte-oriented link to a piece of hardware.

Read and Write move raw chunks; Send, Recv and SendRecv deal in terminated
messages.  A read that times out with no data is an empty chunk, not an error.

the device is concurrent-safe.  SendRecv holds the device for the duration of
the exchange so responses are not interleaved.
*/
type RemoteDevice struct {
	// Addr is the port name, e.g. /dev/ttyACM0 or COM4
	Addr string

	// Terminators are the message terminators
	Terminators Terminators

	// Maker opens the underlying connection
	Maker CreationFunc

	// OpenTimeout bounds the total time spent retrying in Open
	OpenTimeout time.Duration

	connMu sync.RWMutex
	txMu   sync.Mutex
	conn   io.ReadWriteCloser
	rdr    *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice on a serial port
func NewRemoteDevice(addr string, baud int, terms Terminators) *RemoteDevice {
	return NewRemoteDeviceFromMaker(addr, SerialMaker(addr, baud, DefaultReadTimeout), terms)
}

// NewRemoteDeviceFromMaker creates a new RemoteDevice which uses maker to
// open its connection
func NewRemoteDeviceFromMaker(addr string, maker CreationFunc, terms Terminators) *RemoteDevice {
	return &RemoteDevice{
		Addr:        addr,
		Terminators: terms,
		Maker:       maker,
		OpenTimeout: DefaultOpenTimeout,
	}
}

// Open the connection.  Calling Open on an open device is a no-op.
func (rd *RemoteDevice) Open() error {
	rd.connMu.Lock()
	defer rd.connMu.Unlock()
	if rd.conn != nil {
		return nil
	}
	var conn io.ReadWriteCloser
	op := func() error {
		c, err := rd.Maker()
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	// USB serial devices take a moment to enumerate after a reset,
	// so the first few failures are expected
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      rd.OpenTimeout,
		Clock:               backoff.SystemClock})
	if err != nil {
		return errors.Wrapf(err, "connection timeout to %s", rd.Addr)
	}
	rd.conn = conn
	rd.rdr = bufio.NewReader(conn)
	return nil
}

// Close the connection.  Closing a closed device is a no-op.
func (rd *RemoteDevice) Close() error {
	rd.connMu.Lock()
	defer rd.connMu.Unlock()
	if rd.conn == nil {
		return nil
	}
	err := rd.conn.Close()
	rd.conn = nil
	rd.rdr = nil
	return err
}

// IsOpen returns true if the connection is open
func (rd *RemoteDevice) IsOpen() bool {
	rd.connMu.RLock()
	defer rd.connMu.RUnlock()
	return rd.conn != nil
}

// Read reads whatever is available into p.  Zero bytes and a nil error means
// nothing arrived before the read timeout.
func (rd *RemoteDevice) Read(p []byte) (int, error) {
	rd.connMu.RLock()
	defer rd.connMu.RUnlock()
	if rd.conn == nil {
		return 0, ErrNotConnected
	}
	n, err := rd.rdr.Read(p)
	if err == io.EOF {
		// tarm/serial reports an expired read timeout as EOF
		err = nil
	}
	return n, err
}

// Write writes p to the device as-is
func (rd *RemoteDevice) Write(p []byte) (int, error) {
	rd.connMu.RLock()
	defer rd.connMu.RUnlock()
	if rd.conn == nil {
		return 0, ErrNotConnected
	}
	return rd.conn.Write(p)
}

// Drain reads until the device has nothing more to say and returns what was read
func (rd *RemoteDevice) Drain() ([]byte, error) {
	var (
		out []byte
		buf = make([]byte, 256)
	)
	for i := 0; i < maxDrainReads; i++ {
		n, err := rd.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return out, err
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}

// Send writes data to the remote after appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	msg := make([]byte, 0, len(b)+1)
	msg = append(msg, b...)
	msg = append(msg, rd.Terminators.Tx)
	_, err := rd.Write(msg)
	return err
}

// Recv receives data from the remote and strips the Rx terminator and any
// carriage return before it
func (rd *RemoteDevice) Recv() ([]byte, error) {
	rd.connMu.RLock()
	defer rd.connMu.RUnlock()
	if rd.conn == nil {
		return nil, ErrNotConnected
	}
	term := rd.Terminators.Rx
	buf, err := rd.rdr.ReadBytes(term)
	if err != nil {
		if err == io.EOF || err == io.ErrNoProgress {
			return buf, ErrTimeout
		}
		return buf, err
	}
	if !bytes.HasSuffix(buf, []byte{term}) {
		return buf, ErrTerminatorNotFound
	}
	buf = buf[:len(buf)-1]
	return bytes.TrimRight(buf, "\r"), nil
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.txMu.Lock()
	defer rd.txMu.Unlock()
	err := rd.Send(b)
	if err != nil {
		return nil, err
	}
	return rd.Recv()
}

// SendLocked sends a message while holding the exchange lock, so it does not
// land in the middle of another caller's SendRecv
func (rd *RemoteDevice) SendLocked(b []byte) error {
	rd.txMu.Lock()
	defer rd.txMu.Unlock()
	return rd.Send(b)
}
