package comm_test

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/nasa-jpl/forcebench/comm"
)

func openMock(t *testing.T, m *comm.MockConn) *comm.RemoteDevice {
	t.Helper()
	rd := comm.NewRemoteDeviceFromMaker("mock", m.Maker(), comm.DefaultTerminators)
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	return rd
}

func TestSendRecvStripsTerminators(t *testing.T) {
	m := comm.NewMockConn()
	m.Respond = func(p []byte) [][]byte {
		return [][]byte{[]byte("4"), []byte("2\r\n")}
	}
	rd := openMock(t, m)
	resp, err := rd.SendRecv([]byte("r vbus_voltage"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "42" {
		t.Errorf("expected %q got %q", "42", resp)
	}
	if got := string(m.Written()); got != "r vbus_voltage\n" {
		t.Errorf("expected %q got %q", "r vbus_voltage\n", got)
	}
}

func TestRecvWithoutResponseTimesOut(t *testing.T) {
	rd := openMock(t, comm.NewMockConn())
	_, err := rd.Recv()
	if !errors.Is(err, comm.ErrTimeout) {
		t.Errorf("expected ErrTimeout got %v", err)
	}
}

func TestReadEmptyChunkIsNotAnError(t *testing.T) {
	rd := openMock(t, comm.NewMockConn())
	buf := make([]byte, 16)
	n, err := rd.Read(buf)
	if n != 0 || err != nil {
		t.Errorf("expected 0, nil got %d, %v", n, err)
	}
}

func TestDrainCollectsEverythingAvailable(t *testing.T) {
	rd := openMock(t, comm.NewMockConn([]byte("hello "), []byte("load cell\n")))
	out, err := rd.Drain()
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "hello load cell\n" {
		t.Errorf("expected %q got %q", "hello load cell\n", out)
	}
}

func TestClosedDeviceIsNotConnected(t *testing.T) {
	rd := openMock(t, comm.NewMockConn())
	if err := rd.Close(); err != nil {
		t.Fatal(err)
	}
	if rd.IsOpen() {
		t.Error("device reports open after Close")
	}
	_, err := rd.Write([]byte("x"))
	if !errors.Is(err, comm.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected got %v", err)
	}
	// second close is a no-op
	if err := rd.Close(); err != nil {
		t.Errorf("expected nil got %v", err)
	}
}

func TestOpenRetriesUntilDeviceAppears(t *testing.T) {
	m := comm.NewMockConn()
	tries := 0
	maker := func() (io.ReadWriteCloser, error) {
		tries++
		if tries < 3 {
			return nil, errors.New("no such file or directory")
		}
		return m, nil
	}
	rd := comm.NewRemoteDeviceFromMaker("mock", maker, comm.DefaultTerminators)
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	if tries != 3 {
		t.Errorf("expected 3 attempts got %d", tries)
	}
}

func TestOpenGivesUp(t *testing.T) {
	maker := func() (io.ReadWriteCloser, error) {
		return nil, errors.New("no such file or directory")
	}
	rd := comm.NewRemoteDeviceFromMaker("mock", maker, comm.DefaultTerminators)
	rd.OpenTimeout = 100 * time.Millisecond
	if err := rd.Open(); err == nil {
		t.Error("expected an error opening a device that never appears")
	}
}

func ExampleMockConn() {
	m := comm.NewMockConn([]byte("abc"))
	buf := make([]byte, 2)
	n, _ := m.Read(buf)
	fmt.Println(string(buf[:n]))
	n, _ = m.Read(buf)
	fmt.Println(string(buf[:n]))
	// Output:
	// ab
	// c
}
