package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promHandler exposes the default Prometheus registry that
// internal/metrics.Collector registers its instruments against.
func promHandler() http.Handler {
	return promhttp.Handler()
}
