package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newHandler returns the /metrics handler for registry. Collection errors
// go to errorLog.
func newHandler(registry *prometheus.Registry, errorLog promhttp.Logger) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          errorLog,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
