package motion

import (
	"encoding/json"
	"net/http"

	"github.com/nasa-jpl/forcebench/axis"
	"github.com/nasa-jpl/forcebench/generichttp"
)

// Setpointer is an axis that takes a position with feed-forward terms
type Setpointer interface {
	Apply(axis.Setpoint) error
}

// HTTPSetpoint adds the setpoint route to the route table
func HTTPSetpoint(iface Setpointer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/setpoint"}] = SetSetpoint(iface)
}

// SetSetpoint returns an http.HandlerFunc that decodes a
// {"pos": deg, "vel": deg/s, "torque": Nm} body and applies it
func SetSetpoint(s Setpointer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp := axis.Setpoint{}
		err := json.NewDecoder(r.Body).Decode(&sp)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		generichttp.Trigger(func() error { return s.Apply(sp) })(w, r)
	}
}
