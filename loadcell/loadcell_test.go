package loadcell_test

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/forcebench/comm"
	"github.com/nasa-jpl/forcebench/generichttp"
	"github.com/nasa-jpl/forcebench/loadcell"
)

func fastTiming() loadcell.Timing {
	return loadcell.Timing{
		ModeSettle:      time.Millisecond,
		CalibrateSettle: time.Millisecond,
		TareSettle:      time.Millisecond,
		QuerySettle:     time.Millisecond,
		QueryTimeout:    200 * time.Millisecond,
		IdleWait:        time.Millisecond,
		ErrorWait:       time.Millisecond,
	}
}

func connected(t *testing.T, m *comm.MockConn) *loadcell.Link {
	t.Helper()
	rd := comm.NewRemoteDeviceFromMaker("mock", m.Maker(), comm.DefaultTerminators)
	l := loadcell.New(rd, fastTiming())
	if _, err := l.Connect(); err != nil {
		t.Fatal(err)
	}
	return l
}

type collector struct {
	mu      sync.Mutex
	samples []loadcell.Sample
}

func (c *collector) add(s loadcell.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

func (c *collector) get() []loadcell.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]loadcell.Sample(nil), c.samples...)
}

// waitDrained waits until the mock has handed out every chunk and the reader
// has had a few more passes
func waitDrained(t *testing.T, m *comm.MockConn) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("reader did not consume the stream")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
}

func readAll(t *testing.T, chunks ...[]byte) []loadcell.Sample {
	t.Helper()
	m := comm.NewMockConn()
	l := connected(t, m)
	c := &collector{}
	if err := l.StartContinuousRead(c.add); err != nil {
		t.Fatal(err)
	}
	m.Feed(chunks...)
	waitDrained(t, m)
	if err := l.Stop(); err != nil {
		t.Fatal(err)
	}
	return c.get()
}

const records = `{"calculatedWeight":1,"adcValue":100}
{"calculatedWeight":2,"adcValue":200,"isCalibrated":true}
{"calculatedWeight":3}
`

func TestContinuousReadSplitChunksMatchWholeLines(t *testing.T) {
	want := readAll(t, []byte(records))
	if len(want) != 3 {
		t.Fatalf("expected 3 samples got %d", len(want))
	}

	var bytewise [][]byte
	for i := 0; i < len(records); i++ {
		bytewise = append(bytewise, []byte(records[i:i+1]), []byte{})
	}
	if diff := cmp.Diff(want, readAll(t, bytewise...)); diff != "" {
		t.Errorf("one byte at a time (-want +got):\n%s", diff)
	}

	midline := [][]byte{
		[]byte(records[:10]),
		{},
		[]byte(records[10:45]),
		[]byte(records[45:46]),
		[]byte(records[46:]),
	}
	if diff := cmp.Diff(want, readAll(t, midline...)); diff != "" {
		t.Errorf("mid-line splits (-want +got):\n%s", diff)
	}
}

func TestContinuousReadSkipsMalformedLine(t *testing.T) {
	got := readAll(t, []byte(`{"calculatedWeight":1}`+"\nnot-json\n"+`{"calculatedWeight":2}`+"\n"))
	if len(got) != 2 {
		t.Fatalf("expected 2 callbacks got %d", len(got))
	}
	if got[0].CalculatedWeight != 1 || got[1].CalculatedWeight != 2 {
		t.Errorf("expected weights 1, 2 got %v, %v", got[0].CalculatedWeight, got[1].CalculatedWeight)
	}
}

func TestContinuousReadUpdatesLatest(t *testing.T) {
	m := comm.NewMockConn()
	l := connected(t, m)
	if _, ok := l.Latest(); ok {
		t.Error("expected no latest sample before any reading")
	}
	if err := l.StartContinuousRead(nil); err != nil {
		t.Fatal(err)
	}
	if err := l.StartContinuousRead(nil); !errors.Is(err, loadcell.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning got %v", err)
	}
	m.Feed([]byte(records))
	waitDrained(t, m)
	s, ok := l.Latest()
	if !ok || s.CalculatedWeight != 3 {
		t.Errorf("expected latest weight 3 got %v (%v)", s.CalculatedWeight, ok)
	}
	// queries are answered from the stream while it runs
	q, ok := l.QueryForceOnce()
	if !ok || q.CalculatedWeight != 3 {
		t.Errorf("expected query to return latest weight 3 got %v (%v)", q.CalculatedWeight, ok)
	}
	l.Stop()
	if l.Connected() {
		t.Error("expected Stop to close the link")
	}
	if l.Reading() {
		t.Error("expected Stop to end the reader")
	}
}

func TestHandshakesRequireConnection(t *testing.T) {
	rd := comm.NewRemoteDeviceFromMaker("mock", comm.NewMockConn().Maker(), comm.DefaultTerminators)
	l := loadcell.New(rd, fastTiming())
	if err := l.SetAutomaticMode(); !errors.Is(err, loadcell.ErrLinkNotConnected) {
		t.Errorf("SetAutomaticMode: expected ErrLinkNotConnected got %v", err)
	}
	if _, err := l.CalibrateKnownWeight(1); !errors.Is(err, loadcell.ErrLinkNotConnected) {
		t.Errorf("CalibrateKnownWeight: expected ErrLinkNotConnected got %v", err)
	}
	if _, err := l.Tare(); !errors.Is(err, loadcell.ErrLinkNotConnected) {
		t.Errorf("Tare: expected ErrLinkNotConnected got %v", err)
	}
	if _, ok := l.QueryForceOnce(); ok {
		t.Error("QueryForceOnce: expected no reading on a closed link")
	}
	if err := l.StartContinuousRead(nil); !errors.Is(err, loadcell.ErrLinkNotConnected) {
		t.Errorf("StartContinuousRead: expected ErrLinkNotConnected got %v", err)
	}
}

// lostPort claims to be open after the device has gone away
type lostPort struct {
	*comm.RemoteDevice
}

func (lostPort) IsOpen() bool { return true }

func TestAutomaticModeOnLostLink(t *testing.T) {
	rd := comm.NewRemoteDeviceFromMaker("mock", comm.NewMockConn().Maker(), comm.DefaultTerminators)
	l := loadcell.New(lostPort{rd}, fastTiming())
	err := l.SetAutomaticMode()
	if !errors.Is(err, loadcell.ErrLinkNotConnected) {
		t.Fatalf("expected ErrLinkNotConnected got %v", err)
	}
	if code := generichttp.StatusFor(err); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 got %d", code)
	}
}

func TestCalibrateKnownWeightHandshake(t *testing.T) {
	m := comm.NewMockConn([]byte("stale output\n"))
	m.Respond = func(p []byte) [][]byte {
		if string(p) == "1.5" {
			return [][]byte{[]byte("calibration value 140.000\n")}
		}
		return nil
	}
	rd := comm.NewRemoteDeviceFromMaker("mock", m.Maker(), comm.DefaultTerminators)
	l := loadcell.New(rd, fastTiming())
	banner, err := l.Connect()
	if err != nil {
		t.Fatal(err)
	}
	if banner != "stale output\n" {
		t.Errorf("expected banner %q got %q", "stale output\n", banner)
	}
	resp, err := l.CalibrateKnownWeight(1.5)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "calibration value 140.000\n" {
		t.Errorf("expected sensor response got %q", resp)
	}
	if got := string(m.Written()); got != "c1.5" {
		t.Errorf("expected writes %q got %q", "c1.5", got)
	}
}

func TestTareHandshake(t *testing.T) {
	m := comm.NewMockConn()
	m.Respond = func(p []byte) [][]byte {
		if bytes.Equal(p, []byte("t")) {
			return [][]byte{[]byte("tare complete\n")}
		}
		return nil
	}
	l := connected(t, m)
	resp, err := l.Tare()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp, "tare complete") {
		t.Errorf("expected tare response got %q", resp)
	}
}

func TestQueryForceOnce(t *testing.T) {
	m := comm.NewMockConn()
	answer := []byte(`{"calculatedWeight":0.75}` + "\n")
	m.Respond = func(p []byte) [][]byte {
		return [][]byte{answer[:5], answer[5:]}
	}
	l := connected(t, m)
	s, ok := l.QueryForceOnce()
	if !ok {
		t.Fatal("expected a reading")
	}
	if s.CalculatedWeight != 0.75 {
		t.Errorf("expected 0.75 got %v", s.CalculatedWeight)
	}

	answer = []byte("garbage\n")
	if _, ok := l.QueryForceOnce(); ok {
		t.Error("expected a garbage answer to yield no reading")
	}

	m.Respond = nil
	if _, ok := l.QueryForceOnce(); ok {
		t.Error("expected no answer to yield no reading")
	}
}

func TestSimulatorSpeaksProtocol(t *testing.T) {
	sim := loadcell.NewSimulator(5 * time.Millisecond)
	rd := comm.NewRemoteDeviceFromMaker("sim", sim.Maker(), comm.DefaultTerminators)
	l := loadcell.New(rd, fastTiming())
	banner, err := l.Connect()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(banner, "ready") {
		t.Errorf("expected startup banner got %q", banner)
	}
	if _, err := l.Tare(); err != nil {
		t.Fatal(err)
	}
	resp, err := l.CalibrateKnownWeight(2)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp, "calibration value") {
		t.Errorf("expected calibration response got %q", resp)
	}
	s, ok := l.QueryForceOnce()
	if !ok {
		t.Fatal("expected a reading from the simulator")
	}
	if !s.IsCalibrated || s.KnownWeight != 2 {
		t.Errorf("expected a calibrated record with known weight 2 got %+v", s)
	}

	if err := l.SetAutomaticMode(); err != nil {
		t.Fatal(err)
	}
	c := &collector{}
	if err := l.StartContinuousRead(c.add); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	l.Stop()
	if len(c.get()) == 0 {
		t.Error("expected the simulator to stream records in automatic mode")
	}
}
