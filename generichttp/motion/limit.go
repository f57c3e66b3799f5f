package motion

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/nasa-jpl/forcebench/axis"
	"github.com/nasa-jpl/forcebench/generichttp"
	"github.com/nasa-jpl/forcebench/util"
)

var (
	errClamped = errors.New("requested position violates software limits, aborted")
)

// isMotion returns true for requests that command a position
func isMotion(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	return strings.HasSuffix(r.URL.Path, "/pos") || strings.HasSuffix(r.URL.Path, "/setpoint")
}

// LimitMiddleware imposes software travel limits on motion
type LimitMiddleware struct {
	// Limit contains the server imposed limits on the axis, nil for none
	Limit *util.Limiter

	// Mov is a reference to the mover, used to query the axis position
	Mov Mover
}

// Check verifies if a motion would violate the axis limit, if there is one,
// and if it does, responds with StatusBadRequest
// otherwise, flows control to the next handler
func (l *LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Limit == nil || !isMotion(r) {
			next.ServeHTTP(w, r)
			return
		}
		// downstream functions want the body...
		// read it all here, then "paste" it back with ioutil
		bodyContent, _ := ioutil.ReadAll(r.Body)
		r.Body.Close()
		r.Body = ioutil.NopCloser(bytes.NewBuffer(bodyContent))

		var cmd float64
		if strings.HasSuffix(r.URL.Path, "/setpoint") {
			sp := axis.Setpoint{}
			if err := json.Unmarshal(bodyContent, &sp); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			cmd = sp.Position
		} else {
			relative, err := popRelative(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f := generichttp.FloatT{}
			if err := json.Unmarshal(bodyContent, &f); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			cmd = f.F64
			if relative {
				// in the relative case, shift the command by currPos
				currPos, err := l.Mov.Position()
				if err != nil {
					generichttp.Error(w, err)
					return
				}
				cmd += currPos
			}
		}
		if !l.Limit.Check(cmd) {
			generichttp.Error(w, errClamped)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Inject places a /limits route on the table of the HTTPer
func (l LimitMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/limits"}] = Limits(l)
}

// Limits returns an HTTP handler func that returns the limits of the axis,
// null if there are none
func Limits(l LimitMiddleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, l.Limit)
	}
}
