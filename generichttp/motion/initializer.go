package motion

import (
	"net/http"

	"github.com/nasa-jpl/forcebench/generichttp"
)

// Initializer is a type which may connect to and calibrate an axis
type Initializer interface {
	// Connect finds the drive
	Connect() error

	// Calibrate runs the drive's calibration sequence, blocking until done
	Calibrate() error
}

// HTTPInitialize adds routes for initialization to the route table
func HTTPInitialize(i Initializer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/connect"}] = generichttp.Trigger(i.Connect)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/calibrate"}] = generichttp.Trigger(i.Calibrate)
}
