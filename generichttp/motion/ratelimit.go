package motion

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RateMiddleware refuses motion commands that arrive faster than the
// limiter allows, replying 429
type RateMiddleware struct {
	*rate.Limiter
}

// NewRateMiddleware allows perSecond motion commands on average with bursts
// of up to burst.  perSecond <= 0 disables the limit.
func NewRateMiddleware(perSecond float64, burst int) RateMiddleware {
	lim := rate.Limit(perSecond)
	if perSecond <= 0 {
		lim = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return RateMiddleware{rate.NewLimiter(lim, burst)}
}

// Check is the middleware
func (m RateMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMotion(r) {
			next.ServeHTTP(w, r)
			return
		}
		res := m.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			secs := int(math.Ceil(delay.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			http.Error(w, "motion commands arriving too fast, retry in "+delay.Round(time.Millisecond).String(), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
