package motion

import (
	"encoding/json"
	"net/http"

	"github.com/nasa-jpl/forcebench/generichttp"
)

func init() {
	generichttp.MapError(ErrAlreadyRunning, http.StatusConflict)
	generichttp.MapError(ErrBadStep, http.StatusBadRequest)
	generichttp.MapError(ErrOutOfRange, http.StatusBadRequest)
}

// HTTPWrapper provides HTTP bindings on top of a Sequencer
type HTTPWrapper struct {
	*Sequencer

	// RouteTable maps methods and paths to http handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(s *Sequencer) HTTPWrapper {
	w := HTTPWrapper{Sequencer: s}
	w.RouteTable = generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/"}:     w.Start,
		{Method: http.MethodGet, Path: "/"}:      w.GetStatus,
		{Method: http.MethodPost, Path: "/stop"}: generichttp.Trigger(func() error { s.Stop(); return nil }),
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Start decodes a JSON list of steps, [{"target": 300, "dwell": "2s"}, ...],
// and starts the sequence
func (h HTTPWrapper) Start(w http.ResponseWriter, r *http.Request) {
	var steps []Step
	err := json.NewDecoder(r.Body).Decode(&steps)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	generichttp.Trigger(func() error { return h.Sequencer.Start(steps) })(w, r)
}

// GetStatus replies with the sequencer status
func (h HTTPWrapper) GetStatus(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Sequencer.Status())
}
