package motion

import (
	"net/http"

	"github.com/nasa-jpl/forcebench/axis"
	"github.com/nasa-jpl/forcebench/generichttp"
)

// StateReporter is an axis that reports its state machine state
type StateReporter interface {
	State() axis.State
}

// Diagnoser is an axis that exposes the drive's health
type Diagnoser interface {
	BusVoltage() (float64, error)
	Errors() (axis.DriveErrors, error)
	ClearErrors() error
}

// HTTPState adds the state route to the route table
func HTTPState(iface StateReporter, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/state"}] = generichttp.GetString(func() (string, error) {
		return iface.State().String(), nil
	})
}

// HTTPDiagnose adds the voltage and error routes to the route table
func HTTPDiagnose(iface Diagnoser, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/voltage"}] = generichttp.GetFloat(iface.BusVoltage)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/errors"}] = GetErrors(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/errors/clear"}] = generichttp.Trigger(iface.ClearErrors)
}

// GetErrors returns an http.HandlerFunc that replies with the drive's error words
func GetErrors(d Diagnoser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := d.Errors()
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		generichttp.RespondJSON(w, e)
	}
}
