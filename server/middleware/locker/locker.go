// Package locker lets an operator lock a bench against commands while reads
// keep working.  Locked commands get 423 (locked).
package locker

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nasa-jpl/forcebench/generichttp"
)

// Inject adds GET and POST /lock to the table of an HTTPer
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Status is the lock as reported over HTTP
type Status struct {
	Locked bool `json:"locked"`

	// Since is when the lock was taken, absent when unlocked
	Since *time.Time `json:"since,omitempty"`
}

// Locker is a lock that never blocks.  While it is held, requests that
// would change something are refused.
type Locker struct {
	// since is nil while unlocked
	since atomic.Pointer[time.Time]

	// DoNotProtect lists path fragments the lock does not apply to
	DoNotProtect []string
}

// New returns an unlocked Locker that leaves its own route open
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the bench.  Locking a locked bench keeps the original time.
func (l *Locker) Lock() {
	now := time.Now()
	l.since.CompareAndSwap(nil, &now)
}

// Unlock the bench
func (l *Locker) Unlock() {
	l.since.Store(nil)
}

// Locked returns true if the bench is locked
func (l *Locker) Locked() bool {
	return l.since.Load() != nil
}

// Status returns the lock state and when it was taken
func (l *Locker) Status() Status {
	t := l.since.Load()
	return Status{Locked: t != nil, Since: t}
}

func (l *Locker) protects(path string) bool {
	for _, str := range l.DoNotProtect {
		if strings.Contains(path, str) {
			return false
		}
	}
	return true
}

// Check is an HTTP middleware that refuses anything but GET and HEAD with
// http.StatusLocked while the bench is locked
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		readOnly := r.Method == http.MethodGet || r.Method == http.MethodHead
		if !readOnly && l.Locked() && l.protects(r.URL.Path) {
			http.Error(w, "bench is locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet locks or unlocks based on a {"bool": locked} body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	generichttp.SetBool(func(b bool) error {
		if b {
			l.Lock()
		} else {
			l.Unlock()
		}
		return nil
	})(w, r)
}

// HTTPGet replies with the Status
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, l.Status())
}
