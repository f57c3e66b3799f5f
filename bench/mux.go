package bench

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/nasa-jpl/forcebench/generichttp"
	"github.com/nasa-jpl/forcebench/generichttp/ascii"
	"github.com/nasa-jpl/forcebench/generichttp/motion"
	"github.com/nasa-jpl/forcebench/loadcell"
	seq "github.com/nasa-jpl/forcebench/motion"
	"github.com/nasa-jpl/forcebench/server/middleware/locker"
	"github.com/nasa-jpl/forcebench/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// node is one component mounted under an endpoint
type node struct {
	endpoint   string
	httper     generichttp.HTTPer
	middleware []func(http.Handler) http.Handler
}

func (s *Session) axisNode() node {
	httper := motion.NewHTTPMotionController(s.Axis)
	rt := httper.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/provision"}] = generichttp.Trigger(s.Axis.Provision)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/shutdown"}] = generichttp.Trigger(s.Axis.Shutdown)
	ascii.InjectRawComm(httper, s.Axis)

	limiter := motion.LimitMiddleware{Limit: s.Config.Axis.Limits, Mov: s.Axis}
	limiter.Inject(httper)
	rate := motion.NewRateMiddleware(s.Config.Axis.CommandRate, s.Config.Axis.CommandBurst)
	return node{
		endpoint:   "axis",
		httper:     httper,
		middleware: []func(http.Handler) http.Handler{limiter.Check, rate.Check},
	}
}

// BuildMux serves every component of the session under its own endpoint,
// plus the bench lock, the Prometheus registry at /metrics and a list of
// all routes at /endpoints
func BuildMux(s *Session) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	lock := locker.New()
	root.Use(lock.Check)
	top := generichttp.RouteTable{}
	locker.Inject(top, lock)
	top.Bind(root)

	supergraph := map[string][]string{"/": top.Endpoints()}
	nodes := []node{
		s.axisNode(),
		{endpoint: "loadcell", httper: loadcell.NewHTTPWrapper(s.LoadCell)},
		{endpoint: "telemetry", httper: telemetry.NewHTTPWrapper(s.Telemetry)},
		{endpoint: "sequence", httper: seq.NewHTTPWrapper(s.Sequencer)},
	}
	for _, n := range nodes {
		hndlS := generichttp.SubMuxSanitize(n.endpoint)
		supergraph[hndlS] = n.httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(n.middleware...)
		n.httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	if s.Registry != nil {
		root.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
