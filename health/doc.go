// Package health reports whether the core's shared resources can serve work.
//
// A Checker reports a Status (Healthy, Degraded or Unhealthy) for one
// component. The package ships checkers for the pieces the core owns:
//
//	agg := health.NewAggregator(health.AggregatorConfig{Logger: logger})
//	agg.Register(health.NewPingChecker("store", store))
//	agg.Register(health.NewPoolChecker(sessions))
//	agg.Register(health.NewBreakerChecker(remote.Breakers()))
//
// An open circuit or a saturated pool degrades the service. A store that
// cannot be pinged, or a closed pool, makes it unhealthy.
//
// # HTTP Endpoints
//
//	health.RegisterHandlers(mux, agg)
//
// mounts /healthz (liveness), /readyz (plain-text readiness, 503 when
// unhealthy) and /health (JSON report, ?check=<name> for a single checker).
package health
