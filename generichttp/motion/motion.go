// Package motion provides an HTTP interface to a single servo axis
package motion

/*
The routes for an axis are assembled from the small interfaces in this
package.  Every controller is a Mover; the other interfaces are optional and
their routes are added when the concrete type satisfies them.
*/
import (
	"net/http"

	"github.com/nasa-jpl/forcebench/axis"
	"github.com/nasa-jpl/forcebench/generichttp"
)

func init() {
	generichttp.MapError(axis.ErrNotReady, http.StatusConflict)
	generichttp.MapError(axis.ErrDeviceUnreachable, http.StatusServiceUnavailable)
	generichttp.MapError(axis.ErrStateTransitionTimeout, http.StatusGatewayTimeout)
	generichttp.MapError(axis.ErrCalibrationTimeout, http.StatusGatewayTimeout)
	generichttp.MapError(errClamped, http.StatusBadRequest)
}

// Controller is used for the HTTP interface, which will check if the concrete
// type satisfies the other interfaces in this package and inject their routes
// automatically
type Controller interface {
	// Mover - all Controllers must be Movers
	Mover
}

// HTTPMotionController wraps a motion controller with HTTP
type HTTPMotionController struct {
	Controller

	RouteTable generichttp.RouteTable
}

// NewHTTPMotionController returns a new HTTP wrapper with the route table pre-configured
func NewHTTPMotionController(c Controller) HTTPMotionController {
	w := HTTPMotionController{Controller: c}
	rt := generichttp.RouteTable{}
	HTTPMove(c, rt)
	if initializer, ok := interface{}(c).(Initializer); ok {
		HTTPInitialize(initializer, rt)
	}
	if enabler, ok := interface{}(c).(Enabler); ok {
		HTTPEnable(enabler, rt)
	}
	if speeder, ok := interface{}(c).(Speeder); ok {
		HTTPSpeed(speeder, rt)
	}
	if sp, ok := interface{}(c).(Setpointer); ok {
		HTTPSetpoint(sp, rt)
	}
	if sr, ok := interface{}(c).(StateReporter); ok {
		HTTPState(sr, rt)
	}
	if d, ok := interface{}(c).(Diagnoser); ok {
		HTTPDiagnose(d, rt)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the HTTPer interface
func (h HTTPMotionController) RT() generichttp.RouteTable {
	return h.RouteTable
}
