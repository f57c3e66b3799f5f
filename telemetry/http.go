package telemetry

import (
	"bytes"
	"go/types"
	"net/http"
	"strconv"

	"github.com/nasa-jpl/forcebench/generichttp"
)

func init() {
	generichttp.MapError(ErrAlreadyRunning, http.StatusConflict)
}

// HTTPWrapper provides HTTP bindings on top of an Aggregator
type HTTPWrapper struct {
	*Aggregator

	// RouteTable maps methods and paths to http handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(a *Aggregator) HTTPWrapper {
	w := HTTPWrapper{Aggregator: a}
	w.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/"}:             w.Latest,
		{Method: http.MethodGet, Path: "/history"}:      w.History,
		{Method: http.MethodGet, Path: "/history.fits"}: w.FITS,
		{Method: http.MethodPost, Path: "/clear"}:       generichttp.Trigger(func() error { a.Clear(); return nil }),
		{Method: http.MethodPost, Path: "/compact"}:     w.Compact,
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Latest replies with the most recent sample, or 404 before the first
func (h HTTPWrapper) Latest(w http.ResponseWriter, r *http.Request) {
	s, ok := h.Aggregator.Latest()
	if !ok {
		http.Error(w, "no telemetry recorded", http.StatusNotFound)
		return
	}
	generichttp.RespondJSON(w, s)
}

// History replies with the whole history as columns
func (h HTTPWrapper) History(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Aggregator.Snapshot())
}

// FITS replies with the history as a FITS binary table
func (h HTTPWrapper) FITS(w http.ResponseWriter, r *http.Request) {
	buf := &bytes.Buffer{}
	if err := WriteFITS(buf, h.Aggregator.Snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/fits")
	w.Header().Set("Content-Disposition", `attachment; filename="telemetry.fits"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// Compact discards the oldest part of the history and replies with the
// number of samples dropped as {"int": n}
func (h HTTPWrapper) Compact(w http.ResponseWriter, r *http.Request) {
	n := h.Aggregator.Compact()
	hp := generichttp.HumanPayload{T: types.Int, Int: n}
	hp.EncodeAndRespond(w, r)
}
