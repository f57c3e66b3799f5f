package locker_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/forcebench/generichttp"
	"github.com/nasa-jpl/forcebench/server/middleware/locker"
)

func TestLockBlocksCommandsNotReads(t *testing.T) {
	l := locker.New()
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/axis/pos"}: func(w http.ResponseWriter, r *http.Request) {},
		{Method: http.MethodGet, Path: "/axis/pos"}:  func(w http.ResponseWriter, r *http.Request) {},
	}
	locker.Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.RT().Bind(r)

	tests := []struct {
		name         string
		method, path string
		body         string
		want         int
	}{
		{"unlocked post", http.MethodPost, "/axis/pos", "", http.StatusOK},
		{"lock", http.MethodPost, "/lock", `{"bool": true}`, http.StatusOK},
		{"locked post", http.MethodPost, "/axis/pos", "", http.StatusLocked},
		{"locked get", http.MethodGet, "/axis/pos", "", http.StatusOK},
		{"unlock", http.MethodPost, "/lock", `{"bool": false}`, http.StatusOK},
		{"post after unlock", http.MethodPost, "/axis/pos", "", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
		if rec.Code != tt.want {
			t.Errorf("%s: expected %d got %d", tt.name, tt.want, rec.Code)
		}
	}
}

func TestStatusReportsSince(t *testing.T) {
	l := locker.New()
	if st := l.Status(); st.Locked || st.Since != nil {
		t.Errorf("expected unlocked with no time, got %+v", st)
	}
	l.Lock()
	first := *l.Status().Since
	l.Lock()
	if got := *l.Status().Since; !got.Equal(first) {
		t.Errorf("second Lock moved the lock time from %v to %v", first, got)
	}

	rec := httptest.NewRecorder()
	l.HTTPGet(rec, httptest.NewRequest(http.MethodGet, "/lock", nil))
	var st locker.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Locked || st.Since == nil {
		t.Errorf("expected locked with a time over HTTP, got %+v", st)
	}
	l.Unlock()
	if l.Locked() {
		t.Error("still locked after Unlock")
	}
}
