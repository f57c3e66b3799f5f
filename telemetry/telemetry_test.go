package telemetry_test

import (
	"bytes"
	"encoding/csv"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/forcebench/loadcell"
	"github.com/nasa-jpl/forcebench/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

func TestHistoryKeepsLastN(t *testing.T) {
	const N, k = 10, 7
	h := telemetry.NewHistory[int](N)
	for i := 0; i < N+k; i++ {
		h.Append(i)
	}
	want := []int{7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if diff := cmp.Diff(want, h.Snapshot()); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryCompact(t *testing.T) {
	for _, L := range []int{0, 1, 4, 5, 10, 17, 100} {
		h := telemetry.NewHistory[int](1000)
		for i := 0; i < L; i++ {
			h.Append(i)
		}
		dropped := h.Compact(0.8)
		wantLen := L - int(math.Floor(0.8*float64(L)))
		if h.Len() != wantLen || dropped != L-wantLen {
			t.Errorf("L=%d: expected length %d got %d (dropped %d)", L, wantLen, h.Len(), dropped)
			continue
		}
		snap := h.Snapshot()
		for i, v := range snap {
			if v != L-wantLen+i {
				t.Errorf("L=%d: expected %d at %d got %d", L, L-wantLen+i, i, v)
			}
		}
	}
}

func TestHistorySnapshotIsACopy(t *testing.T) {
	h := telemetry.NewHistory[int](3)
	h.Append(1)
	h.Append(2)
	snap := h.Snapshot()
	snap[0] = 99
	h.Append(3)
	h.Append(4)
	if diff := cmp.Diff([]int{2, 3, 4}, h.Snapshot()); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	if snap[0] != 99 || len(snap) != 2 {
		t.Errorf("snapshot changed under us: %v", snap)
	}
}

type fakeAxis struct {
	mu  sync.Mutex
	pos float64
	err error
}

func (f *fakeAxis) Position() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos++
	return f.pos, f.err
}

func (f *fakeAxis) Velocity() (float64, error) { return 2, nil }
func (f *fakeAxis) Torque() (float64, error)   { return 3, nil }

type fakeForce struct {
	s  loadcell.Sample
	ok bool
}

func (f fakeForce) Latest() (loadcell.Sample, bool) { return f.s, f.ok }

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func TestAggregatorPoll(t *testing.T) {
	var got []telemetry.Sample
	sink := telemetry.SinkFunc(func(s telemetry.Sample) error {
		got = append(got, s)
		return nil
	})
	force := fakeForce{s: loadcell.Sample{CalculatedWeight: 1.25}, ok: true}
	a := telemetry.NewAggregator(&fakeAxis{}, force, 2, sink)
	a.Now = fixedClock()
	for i := 0; i < 3; i++ {
		a.Poll()
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 samples at the sink got %d", len(got))
	}
	want := telemetry.Series{
		Time:     []time.Time{got[1].Time, got[2].Time},
		Position: []float64{2, 3},
		Velocity: []float64{2, 2},
		Torque:   []float64{3, 3},
		Force:    []float64{1.25, 1.25},
	}
	if diff := cmp.Diff(want, a.Snapshot()); diff != "" {
		t.Errorf("series mismatch (-want +got):\n%s", diff)
	}
	latest, ok := a.Latest()
	if !ok || latest != got[2] {
		t.Errorf("expected latest %+v got %+v", got[2], latest)
	}
}

func TestForceIsZeroWithoutLoadCell(t *testing.T) {
	a := telemetry.NewAggregator(&fakeAxis{}, nil, 4)
	if s := a.Poll(); s.Force != 0 {
		t.Errorf("expected zero force got %v", s.Force)
	}
	a = telemetry.NewAggregator(&fakeAxis{}, fakeForce{}, 4)
	if s := a.Poll(); s.Force != 0 {
		t.Errorf("expected zero force with no reading got %v", s.Force)
	}
}

func TestAxisErrorsDoNotStopSampling(t *testing.T) {
	ax := &fakeAxis{err: errors.New("drive unreachable")}
	sinkErr := telemetry.SinkFunc(func(telemetry.Sample) error { return errors.New("disk full") })
	a := telemetry.NewAggregator(ax, nil, 4, sinkErr)
	a.Poll()
	a.Poll()
	if a.Len() != 2 {
		t.Errorf("expected 2 samples got %d", a.Len())
	}
}

func TestAggregatorCompactAndClear(t *testing.T) {
	a := telemetry.NewAggregator(&fakeAxis{}, nil, 100)
	for i := 0; i < 10; i++ {
		a.Poll()
	}
	if n := a.Compact(); n != 8 {
		t.Errorf("expected 8 dropped got %d", n)
	}
	if diff := cmp.Diff([]float64{9, 10}, a.Snapshot().Position); diff != "" {
		t.Errorf("positions mismatch (-want +got):\n%s", diff)
	}
	a.Clear()
	if _, ok := a.Latest(); ok || a.Len() != 0 {
		t.Error("expected empty aggregator after Clear")
	}
}

func TestStartStop(t *testing.T) {
	a := telemetry.NewAggregator(&fakeAxis{}, nil, 1000)
	if err := a.Start(time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(time.Millisecond); !errors.Is(err, telemetry.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning got %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for a.Len() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	a.Stop()
	n := a.Len()
	if n < 3 {
		t.Fatalf("expected at least 3 samples got %d", n)
	}
	time.Sleep(10 * time.Millisecond)
	if a.Len() != n {
		t.Error("samples taken after Stop returned")
	}
	if a.Running() {
		t.Error("still running after Stop")
	}
}

func TestCSVSink(t *testing.T) {
	buf := &bytes.Buffer{}
	s, err := telemetry.NewCSVSink(buf)
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	if err := s.Record(telemetry.Sample{Time: ts, Position: 1.5, Velocity: -2, Torque: 0.25, Force: 3}); err != nil {
		t.Fatal(err)
	}
	recs, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"time", "position", "velocity", "torque", "force"},
		{"2024-03-01T12:00:00.0000005Z", "1.5", "-2", "0.25", "3"},
	}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := telemetry.NewMetricsSink(reg)
	if err != nil {
		t.Fatal(err)
	}
	m.Record(telemetry.Sample{Position: 12, Force: 0.5})
	m.Record(telemetry.Sample{Position: 13, Force: 0.75})
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]float64{}
	for _, mf := range mfs {
		for _, mt := range mf.GetMetric() {
			switch {
			case mt.GetGauge() != nil:
				got[mf.GetName()] = mt.GetGauge().GetValue()
			case mt.GetCounter() != nil:
				got[mf.GetName()] = mt.GetCounter().GetValue()
			}
		}
	}
	want := map[string]float64{
		"forcebench_telemetry_position_degrees":          13,
		"forcebench_telemetry_velocity_turns_per_second": 0,
		"forcebench_telemetry_torque_newton_meters":      0,
		"forcebench_telemetry_force_kilograms":           0.75,
		"forcebench_telemetry_samples_total":             2,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
	if _, err := telemetry.NewMetricsSink(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestWriteFITS(t *testing.T) {
	smps := []telemetry.Sample{
		{Time: time.Unix(100, 0), Position: 1, Velocity: 2, Torque: 3, Force: 4},
		{Time: time.Unix(101, 0), Position: 5, Velocity: 6, Torque: 7, Force: 8},
	}
	buf := &bytes.Buffer{}
	if err := telemetry.WriteFITS(buf, telemetry.NewSeries(smps)); err != nil {
		t.Fatal(err)
	}
	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	tbl, ok := f.HDU(1).(*fitsio.Table)
	if !ok {
		t.Fatalf("expected a table in HDU 1, got %T", f.HDU(1))
	}
	if tbl.NumRows() != 2 {
		t.Fatalf("expected 2 rows got %d", tbl.NumRows())
	}
	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var got [][]float64
	for rows.Next() {
		var tm, pos, vel, trq, frc float64
		if err := rows.Scan(&tm, &pos, &vel, &trq, &frc); err != nil {
			t.Fatal(err)
		}
		got = append(got, []float64{tm, pos, vel, trq, frc})
	}
	want := [][]float64{{100, 1, 2, 3, 4}, {101, 5, 6, 7, 8}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTP(t *testing.T) {
	a := telemetry.NewAggregator(&fakeAxis{}, nil, 10)
	r := chi.NewRouter()
	telemetry.NewHTTPWrapper(a).RT().Bind(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("latest before poll: expected 404 got %d", rec.Code)
	}

	for i := 0; i < 5; i++ {
		a.Poll()
	}
	for _, path := range []string{"/", "/history", "/history.fits"} {
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200 got %d", path, rec.Code)
		}
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/compact", nil))
	if rec.Code != http.StatusOK || a.Len() != 1 {
		t.Errorf("compact: got %d with %d samples left", rec.Code, a.Len())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/clear", nil))
	if rec.Code != http.StatusOK || a.Len() != 0 {
		t.Errorf("clear: got %d with %d samples left", rec.Code, a.Len())
	}
}
