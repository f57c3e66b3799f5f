package motion_test

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/forcebench/motion"
	"github.com/nasa-jpl/forcebench/util"
)

type recorder struct {
	mu    sync.Mutex
	calls []float64
	fail  error
}

func (r *recorder) SetPosition(f float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.calls = append(r.calls, f)
	return nil
}

func (r *recorder) Calls() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.calls...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStopDuringFirstDwell(t *testing.T) {
	r := &recorder{}
	s := motion.New(r)
	steps := []motion.Step{
		{Target: 300, Dwell: 2000 * time.Millisecond},
		{Target: 400, Dwell: 1000 * time.Millisecond},
	}
	if err := s.Start(steps); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(r.Calls()) == 1 })
	start := time.Now()
	s.Stop()
	if el := time.Since(start); el > 500*time.Millisecond {
		t.Errorf("stop took %v, dwell was not interrupted", el)
	}
	if s.Running() {
		t.Error("sequence still running after Stop returned")
	}
	if diff := cmp.Diff([]float64{300}, r.Calls()); diff != "" {
		t.Errorf("setpoints mismatch (-want +got):\n%s", diff)
	}
	st := s.Status()
	if st.Step != 0 || st.Completed != 0 {
		t.Errorf("expected stop in step 0 with none completed, got %+v", st)
	}
}

func TestSequenceRunsInOrder(t *testing.T) {
	r := &recorder{}
	s := motion.New(r)
	steps := []motion.Step{{Target: 1}, {Target: 2, Dwell: time.Millisecond}, {Target: 3}}
	if err := s.Start(steps); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	if diff := cmp.Diff([]float64{1, 2, 3}, r.Calls()); diff != "" {
		t.Errorf("setpoints mismatch (-want +got):\n%s", diff)
	}
	want := motion.Status{Running: false, Step: 2, Steps: 3, Completed: 3}
	if diff := cmp.Diff(want, s.Status()); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestStartWhileRunning(t *testing.T) {
	s := motion.New(&recorder{})
	if err := s.Start([]motion.Step{{Target: 1, Dwell: time.Hour}}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if err := s.Start([]motion.Step{{Target: 2}}); !errors.Is(err, motion.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning got %v", err)
	}
}

func TestRestartAfterStop(t *testing.T) {
	r := &recorder{}
	s := motion.New(r)
	if err := s.Start([]motion.Step{{Target: 1, Dwell: time.Hour}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(r.Calls()) == 1 })
	s.Stop()
	s.Stop()
	if err := s.Start([]motion.Step{{Target: 2}}); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	if diff := cmp.Diff([]float64{1, 2}, r.Calls()); diff != "" {
		t.Errorf("setpoints mismatch (-want +got):\n%s", diff)
	}
}

func TestFailedSetpointEndsRun(t *testing.T) {
	r := &recorder{fail: errors.New("axis not ready")}
	s := motion.New(r)
	if err := s.Start([]motion.Step{{Target: 1}, {Target: 2}}); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	st := s.Status()
	if st.Running || st.Step != 0 || st.Err == "" {
		t.Errorf("expected failure at step 0, got %+v", st)
	}
}

func TestNegativeDwellRejected(t *testing.T) {
	s := motion.New(&recorder{})
	err := s.Start([]motion.Step{{Target: 1, Dwell: -time.Second}})
	if !errors.Is(err, motion.ErrBadStep) {
		t.Errorf("expected ErrBadStep got %v", err)
	}
}

func TestStepOutsideLimitRejected(t *testing.T) {
	r := &recorder{}
	s := motion.New(r)
	s.Limit = &util.Limiter{Min: -360, Max: 360}
	err := s.Start([]motion.Step{{Target: 90}, {Target: 5000, Dwell: time.Hour}})
	if !errors.Is(err, motion.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange got %v", err)
	}
	if s.Running() {
		t.Error("sequence started despite an out of range step")
	}
	if calls := r.Calls(); len(calls) != 0 {
		t.Errorf("expected no moves, got %v", calls)
	}
	if err := s.Start([]motion.Step{{Target: -360}, {Target: 360}}); err != nil {
		t.Errorf("targets on the limits: %v", err)
	}
	s.Wait()
}

func TestLoadSteps(t *testing.T) {
	dir, err := ioutil.TempDir("", "motion")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "steps.yml")
	doc := "- target: 300\n  dwell: 2s\n- target: 400\n  dwell: 1500ms\n"
	if err := ioutil.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	steps, err := motion.LoadSteps(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []motion.Step{{Target: 300, Dwell: 2 * time.Second}, {Target: 400, Dwell: 1500 * time.Millisecond}}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
}

func TestStepJSON(t *testing.T) {
	var steps []motion.Step
	doc := `[{"target": 10, "dwell": "250ms"}, {"target": -5, "dwell": 1.5}, {"target": 0}]`
	if err := json.Unmarshal([]byte(doc), &steps); err != nil {
		t.Fatal(err)
	}
	want := []motion.Step{{Target: 10, Dwell: 250 * time.Millisecond}, {Target: -5, Dwell: 1500 * time.Millisecond}, {Target: 0}}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
	var s motion.Step
	if err := json.Unmarshal([]byte(`{"target": 1, "dwell": "soon"}`), &s); !errors.Is(err, motion.ErrBadStep) {
		t.Errorf("expected ErrBadStep got %v", err)
	}
}

func TestHTTP(t *testing.T) {
	r := &recorder{}
	s := motion.New(r)
	mux := chi.NewRouter()
	motion.NewHTTPWrapper(s).RT().Bind(mux)

	do := func(method, path, body string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec.Code
	}
	if code := do(http.MethodPost, "/", `[{"target": 300, "dwell": "1h"}]`); code != http.StatusOK {
		t.Fatalf("start: expected 200 got %d", code)
	}
	if code := do(http.MethodPost, "/", `[{"target": 1}]`); code != http.StatusConflict {
		t.Errorf("second start: expected 409 got %d", code)
	}
	if code := do(http.MethodPost, "/stop", ""); code != http.StatusOK {
		t.Errorf("stop: expected 200 got %d", code)
	}
	if s.Running() {
		t.Error("still running after stop")
	}
	if code := do(http.MethodPost, "/", `[{"target": 1, "dwell": -1}]`); code != http.StatusBadRequest {
		t.Errorf("negative dwell: expected 400 got %d", code)
	}
	if code := do(http.MethodPost, "/", `not json`); code != http.StatusBadRequest {
		t.Errorf("garbage: expected 400 got %d", code)
	}
	if code := do(http.MethodGet, "/", ""); code != http.StatusOK {
		t.Errorf("status: expected 200 got %d", code)
	}
}
