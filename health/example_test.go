package health_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/jonwraymond/steadycore/health"
	"github.com/jonwraymond/steadycore/resilience"
)

func ExampleAggregator() {
	breakers := resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{MaxFailures: 1})
	_ = breakers.Execute(context.Background(), "POST channels/7", func(context.Context) error {
		return errors.New("bad gateway")
	})

	agg := health.NewAggregator()
	agg.Register(health.NewCheckerFunc("store", func(context.Context) health.Result {
		return health.Healthy("reachable")
	}))
	agg.Register(health.NewBreakerChecker(breakers))

	results := agg.CheckAll(context.Background())
	for _, name := range agg.CheckerNames() {
		fmt.Printf("%s: %s (%s)\n", name, results[name].Status, results[name].Message)
	}
	fmt.Println("overall:", health.OverallStatus(results))
	// Output:
	// store: healthy (reachable)
	// breakers: degraded (1 circuit(s) open)
	// overall: degraded
}

func ExampleRegisterHandlers() {
	agg := health.NewAggregator()
	agg.Register(health.NewCheckerFunc("store", func(context.Context) health.Result {
		return health.Unhealthy("ping failed", errors.New("disk I/O error"))
	}))

	mux := http.NewServeMux()
	health.RegisterHandlers(mux, agg)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		fmt.Println(path, rec.Code, rec.Body.String())
	}
	// Output:
	// /healthz 200 OK
	// /readyz 503 UNHEALTHY
}
