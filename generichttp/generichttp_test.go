package generichttp_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/forcebench/generichttp"
	"github.com/pkg/errors"
)

var errBusy = errors.New("busy")

func init() {
	generichttp.MapError(errBusy, http.StatusConflict)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"mapped", errBusy, http.StatusConflict},
		{"wrapped", errors.Wrap(errBusy, "axis"), http.StatusConflict},
		{"unmapped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := generichttp.StatusFor(tt.err); got != tt.want {
			t.Errorf("%s: expected %d got %d", tt.name, tt.want, got)
		}
	}
}

func TestTrigger(t *testing.T) {
	rec := httptest.NewRecorder()
	generichttp.Trigger(func() error { return errors.Wrap(errBusy, "calibrating") })(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	generichttp.Trigger(func() error { return nil })(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 got %d", rec.Code)
	}
}

func TestEndpointsSorted(t *testing.T) {
	noop := func(http.ResponseWriter, *http.Request) {}
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/pos"}: noop,
		{Method: http.MethodGet, Path: "/pos"}:  noop,
		{Method: http.MethodGet, Path: "/home"}: noop,
	}
	want := []string{"GET /home", "GET /pos", "POST /pos"}
	if diff := cmp.Diff(want, rt.Endpoints()); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}
}

func ExampleSubMuxSanitize() {
	fmt.Println(generichttp.SubMuxSanitize("bench/axis/*"))
	// Output: /bench/axis
}
