// Package generichttp defines route tables, JSON payloads, and handler
// factories for wrapping devices in an HTTP interface
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
)

// MethodPath is a struct containing an HTTP method and a URL path
type MethodPath struct {
	Method, Path string
}

// RouteTable maps MethodPaths to http handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints returns a sorted list of "METHOD /path" strings
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Method+" "+k.Path)
	}
	sort.Strings(routes)
	return routes
}

// Bind binds every route in the table to the router
func (rt RouteTable) Bind(r chi.Router) {
	for mp, fcn := range rt {
		r.Method(mp.Method, mp.Path, fcn)
	}
}

// RT lets a bare RouteTable stand in for an HTTPer
func (rt RouteTable) RT() RouteTable {
	return rt
}

// HTTPer is something that has a route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize turns "omc/axis" into "/omc/axis", the form chi's Mount wants
func SubMuxSanitize(str string) string {
	str = strings.TrimSuffix(str, "*")
	str = strings.TrimSuffix(str, "/")
	if !strings.HasPrefix(str, "/") {
		str = "/" + str
	}
	return str
}

// FloatT is a struct with a single F64 field
type FloatT struct {
	F64 float64 `json:"f64"`
}

// BoolT is a struct with a single Bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// StrT is a struct with a single Str field
type StrT struct {
	Str string `json:"str"`
}

// IntT is a struct with a single Int field
type IntT struct {
	Int int `json:"int"`
}

// HumanPayload is a struct containing the basic types a device may respond with
type HumanPayload struct {
	Bool   bool
	Float  float64
	Int    int
	String string

	// T is the type of the payload that is populated
	T types.BasicKind
}

// EncodeAndRespond writes the populated field of the payload as JSON,
// {"f64": 1.5}, {"bool": true}, {"int": 2} or {"str": "abc"}
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.Float64:
		v = FloatT{F64: hp.Float}
	case types.Int:
		v = IntT{Int: hp.Int}
	case types.String:
		v = StrT{Str: hp.String}
	default:
		http.Error(w, "payload type not understood", http.StatusInternalServerError)
		return
	}
	RespondJSON(w, v)
}

// RespondJSON encodes v as the response body with status 200
func RespondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

var (
	statusMu sync.RWMutex
	statuses = map[error]int{}
)

// MapError makes Error respond with code for errors that match err
func MapError(err error, code int) {
	statusMu.Lock()
	defer statusMu.Unlock()
	statuses[err] = code
}

// StatusFor returns the HTTP status for err, 500 if it is not mapped
func StatusFor(err error) int {
	statusMu.RLock()
	defer statusMu.RUnlock()
	for target, code := range statuses {
		if errors.Is(err, target) {
			return code
		}
	}
	return http.StatusInternalServerError
}

// Error replies with err's text and its mapped status
func Error(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusFor(err))
}

// Trigger calls fcn and replies 200 if it succeeds
func Trigger(fcn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(b.Bool)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
