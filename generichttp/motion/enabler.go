package motion

import (
	"encoding/json"
	"net/http"

	"github.com/nasa-jpl/forcebench/generichttp"
)

// Enabler describes an axis that can be de-energized and queried for
// whether it is servoing
type Enabler interface {
	// Release de-energizes the motor
	Release() error

	// Enabled is true while the axis is in closed loop
	Enabled() bool
}

// HTTPEnable adds routes for the enabler to the route table
func HTTPEnable(iface Enabler, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/release"}] = generichttp.Trigger(iface.Release)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/enabled"}] = GetEnabled(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/enabled"}] = SetEnabled(iface)
}

// GetEnabled returns an HTTP handler func from an enabler that returns if the axis is enabled
func GetEnabled(e Enabler) http.HandlerFunc {
	return generichttp.GetBool(func() (bool, error) { return e.Enabled(), nil })
}

// SetEnabled returns an HTTP handler func from an enabler that releases the
// axis on {"bool": false}.  Enabling takes a home, so {"bool": true} is
// refused unless the axis already servos.
func SetEnabled(e Enabler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := generichttp.BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if b.Bool {
			if !e.Enabled() {
				http.Error(w, "enable the axis by homing it", http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		generichttp.Trigger(e.Release)(w, r)
	}
}
