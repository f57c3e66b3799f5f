package loadcell

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// ErrMalformedTelemetry is matched by every MalformedError
var ErrMalformedTelemetry = errors.New("malformed telemetry")

// MalformedError is generated when a line from the sensor is not a telemetry record
type MalformedError struct {
	Line string
	Err  error
}

func (e MalformedError) Error() string {
	return fmt.Sprintf("malformed telemetry %q: %v", e.Line, e.Err)
}

// Unwrap returns the decoding error
func (e MalformedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformedTelemetry) true
func (e MalformedError) Is(target error) bool { return target == ErrMalformedTelemetry }

// Flag is a bool that also decodes from 0 and 1, the firmware prints both
type Flag bool

// UnmarshalJSON implements json.Unmarshaler
func (f *Flag) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "null" {
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*f = Flag(v)
	return nil
}

// Sample is one telemetry record from the sensor.  Fields missing from the
// record are zero.
type Sample struct {
	ADCValue         float64 `json:"adcValue"`
	ZeroOffset       float64 `json:"zeroOffset"`
	OffsetCorrected  float64 `json:"offsetCorrected"`
	IsCalibrated     Flag    `json:"isCalibrated"`
	KnownWeight      float64 `json:"knownWeight"`
	CalibrationValue float64 `json:"calibrationValue"`
	CalculatedWeight float64 `json:"calculatedWeight"`
}

// Force returns the calibrated weight reading
func (s Sample) Force() float64 {
	return s.CalculatedWeight
}

// ParseSample decodes one line of telemetry.  The line must hold a JSON object.
func ParseSample(line []byte) (Sample, error) {
	var s Sample
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return s, MalformedError{Line: string(line), Err: errors.New("not a JSON object")}
	}
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return Sample{}, MalformedError{Line: string(line), Err: err}
	}
	return s, nil
}
