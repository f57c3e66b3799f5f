package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/nasa-jpl/forcebench/util"
)

func ExampleLimiter_Clamp() {
	l := util.Limiter{Min: -90, Max: 270}
	fmt.Println(l.Clamp(300), l.Clamp(-100), l.Clamp(45))
	// Output: 270 -90 45
}

func TestLimiterCheck(t *testing.T) {
	l := util.Limiter{Min: 0, Max: 360}
	tests := []struct {
		in   float64
		want bool
	}{
		{-1, false},
		{0, true},
		{180, true},
		{360, true},
		{360.001, false},
	}
	for _, tt := range tests {
		if got := l.Check(tt.in); got != tt.want {
			t.Errorf("Check(%v): expected %v got %v", tt.in, tt.want, got)
		}
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
