package motion

import (
	"net/http"

	"github.com/nasa-jpl/forcebench/generichttp"
)

// Speeder describes an axis that reports its velocity and torque
type Speeder interface {
	// Velocity gets the velocity in turns/s
	Velocity() (float64, error)

	// Torque gets the estimated torque in Nm
	Torque() (float64, error)
}

// HTTPSpeed adds routes for the speeder to the route table
func HTTPSpeed(iface Speeder, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/velocity"}] = generichttp.GetFloat(iface.Velocity)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/torque"}] = generichttp.GetFloat(iface.Torque)
}
