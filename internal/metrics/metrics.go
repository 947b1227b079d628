package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/samcharles93/fabric/pkg/compiler"
)

var (
	CompilationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabric_compilations_total",
		Help: "Compilations attempted, by result and failing stage",
	}, []string{"result", "stage"})

	CompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fabric_compile_duration_seconds",
		Help:    "Wall time of a compilation",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
	})

	ClampedValuesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabric_clamped_values_total",
		Help: "Parameter values saturated during quantisation",
	})

	CompiledParameters = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fabric_compiled_parameters",
		Help:    "Weight and bias words per compiled model",
		Buckets: prometheus.ExponentialBuckets(16, 4, 10),
	})

	LUTRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabric_lut_requests_total",
		Help: "Sigmoid tables generated",
	})

	HTTPErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabric_http_errors_total",
		Help: "API requests rejected, by error type",
	}, []string{"type"})
)

// ObserveCompile records one compilation. It has the shape compiler.WithObserver
// expects.
func ObserveCompile(st compiler.Stats, err error) {
	CompileDuration.Observe(st.Duration.Seconds())
	if err != nil {
		stage := "unknown"
		var ce *compiler.CompilationError
		if errors.As(err, &ce) {
			stage = string(ce.Stage)
		}
		CompilationsTotal.WithLabelValues("error", stage).Inc()
		return
	}
	CompilationsTotal.WithLabelValues("ok", "").Inc()
	ClampedValuesTotal.Add(float64(st.Clamps))
	CompiledParameters.Observe(float64(st.Parameters))
}

// RecordLUT counts a sigmoid table request.
func RecordLUT() { LUTRequestsTotal.Inc() }

// RecordHTTPError counts a rejected API request.
func RecordHTTPError(kind string) { HTTPErrorsTotal.WithLabelValues(kind).Inc() }
