package metrics

import (
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/samcharles93/fabric/pkg/compiler"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveCompile(t *testing.T) {
	ok := CompilationsTotal.WithLabelValues("ok", "")
	failed := CompilationsTotal.WithLabelValues("error", string(compiler.StageWeights))
	okBefore := counterValue(t, ok)
	failedBefore := counterValue(t, failed)
	clampedBefore := counterValue(t, ClampedValuesTotal)

	ObserveCompile(compiler.Stats{Layers: 5, Dense: 4, Parameters: 24380, Clamps: 7, Duration: 3 * time.Millisecond}, nil)
	ObserveCompile(compiler.Stats{Layers: 5}, &compiler.CompilationError{Layer: 2, Stage: compiler.StageWeights, Err: errors.New("missing")})

	if got := counterValue(t, ok) - okBefore; got != 1 {
		t.Fatalf("ok delta = %v, want 1", got)
	}
	if got := counterValue(t, failed) - failedBefore; got != 1 {
		t.Fatalf("error delta = %v, want 1", got)
	}
	if got := counterValue(t, ClampedValuesTotal) - clampedBefore; got != 7 {
		t.Fatalf("clamped delta = %v, want 7", got)
	}
}

func TestRecordHelpers(t *testing.T) {
	before := counterValue(t, LUTRequestsTotal)
	RecordLUT()
	if got := counterValue(t, LUTRequestsTotal) - before; got != 1 {
		t.Fatalf("lut delta = %v", got)
	}

	c := HTTPErrorsTotal.WithLabelValues("InvalidParamsError")
	before = counterValue(t, c)
	RecordHTTPError("InvalidParamsError")
	if got := counterValue(t, c) - before; got != 1 {
		t.Fatalf("http error delta = %v", got)
	}
}
