// Package ascii exposes a device's line protocol over HTTP for diagnostics
package ascii

import (
	"encoding/json"
	"go/types"
	"log"
	"net/http"
	"strings"

	"github.com/nasa-jpl/forcebench/generichttp"
)

// RawCommunicator sends one command line and returns the answer
type RawCommunicator interface {
	Raw(string) (string, error)
}

// RawWrapper serves a RawCommunicator
type RawWrapper struct {
	Comm RawCommunicator
}

// HTTPRaw sends the command in a {"str": command} body and replies with
// {"str": answer}.  Commands go out as given, the caller owns the
// consequences; each one is logged.
func (rw RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd := strings.TrimSpace(str.Str)
	if cmd == "" {
		http.Error(w, "empty command", http.StatusBadRequest)
		return
	}
	log.Printf("raw command from %s: %q", r.RemoteAddr, cmd)
	resp, err := rw.Comm.Raw(cmd)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: resp}
	hp.EncodeAndRespond(w, r)
}

// InjectRawComm adds POST /raw to the table of an HTTPer
func InjectRawComm(other generichttp.HTTPer, raw RawCommunicator) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = RawWrapper{Comm: raw}.HTTPRaw
}
