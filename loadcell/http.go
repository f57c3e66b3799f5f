package loadcell

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/nasa-jpl/forcebench/generichttp"
)

func init() {
	generichttp.MapError(ErrLinkNotConnected, http.StatusServiceUnavailable)
	generichttp.MapError(ErrCalibrationLink, http.StatusBadGateway)
	generichttp.MapError(ErrAlreadyRunning, http.StatusConflict)
}

// Sensor is the set of load cell operations exposed over HTTP
type Sensor interface {
	Connect() (string, error)
	SetAutomaticMode() error
	CalibrateKnownWeight(float64) (string, error)
	Tare() (string, error)
	QueryForceOnce() (Sample, bool)
	Latest() (Sample, bool)
}

// HTTPWrapper provides HTTP bindings on top of a Sensor
type HTTPWrapper struct {
	Sensor

	// RouteTable maps methods and paths to http handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(s Sensor) HTTPWrapper {
	w := HTTPWrapper{Sensor: s}
	w.RouteTable = generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/connect"}:   generichttp.GetString(s.Connect),
		{Method: http.MethodPost, Path: "/automatic"}: generichttp.Trigger(s.SetAutomaticMode),
		{Method: http.MethodPost, Path: "/calibrate"}: w.Calibrate,
		{Method: http.MethodPost, Path: "/tare"}:      generichttp.GetString(s.Tare),
		{Method: http.MethodGet, Path: "/force"}:      w.sample(s.QueryForceOnce),
		{Method: http.MethodGet, Path: "/latest"}:     w.sample(s.Latest),
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Calibrate runs the known weight calibration with the weight from a
// {"f64": kg} body and replies with the sensor's response as {"str": text}
func (h HTTPWrapper) Calibrate(w http.ResponseWriter, r *http.Request) {
	f := generichttp.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := h.Sensor.CalibrateKnownWeight(f.F64)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: resp}
	hp.EncodeAndRespond(w, r)
}

// sample replies with a record as JSON, or 404 when there is none
func (h HTTPWrapper) sample(fcn func() (Sample, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := fcn()
		if !ok {
			http.Error(w, "no load cell reading available", http.StatusNotFound)
			return
		}
		generichttp.RespondJSON(w, s)
	}
}
