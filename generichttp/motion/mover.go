package motion

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nasa-jpl/forcebench/generichttp"
)

// Mover describes an interface with position-related methods for an axis.
// Positions are in degrees from home.
type Mover interface {
	// Position gets the current position
	Position() (float64, error)

	// SetPosition commands an absolute position
	SetPosition(float64) error

	// SetHome makes the current position zero and returns the position
	SetHome() (float64, error)
}

// HTTPMove adds routes for the mover to the route table
func HTTPMove(iface Mover, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/home"}] = Home(iface)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/pos"}] = generichttp.GetFloat(iface.Position)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/pos"}] = SetPos(iface)
}

func popRelative(r *http.Request) (bool, error) {
	relative := r.URL.Query().Get("relative")
	if relative == "" {
		return false, nil
	}
	return strconv.ParseBool(relative)
}

// SetPos returns an HTTP handler func from a mover that triggers an absolute or
// relative move based on the relative query parameter.  It replies with the
// position read back after the command.
func SetPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		relative, err := popRelative(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd := f.F64
		if relative {
			curr, err := m.Position()
			if err != nil {
				generichttp.Error(w, err)
				return
			}
			cmd += curr
		}
		if err = m.SetPosition(cmd); err != nil {
			generichttp.Error(w, err)
			return
		}
		generichttp.GetFloat(m.Position)(w, r)
	}
}

// Home returns an HTTP handler func from a mover that homes the axis and
// replies with the position afterwards
func Home(m Mover) http.HandlerFunc {
	return generichttp.GetFloat(m.SetHome)
}
