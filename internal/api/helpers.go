package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/fabric/internal/metrics"
	"github.com/samcharles93/fabric/pkg/compiler"
	"github.com/samcharles93/fabric/pkg/fxp"
	"github.com/samcharles93/fabric/pkg/graph"
	"github.com/samcharles93/fabric/pkg/weights"
)

const maxBodyBytes = 64 << 20

func writeError(c *echo.Context, status int, errType, msg string) error {
	metrics.RecordHTTPError(errType)
	return c.JSON(status, ErrorBody{Error: ErrorDetail{Type: errType, Message: msg}})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

// writeDomainError reports a compile or validation failure as 400, naming the
// innermost error class.
func writeDomainError(c *echo.Context, err error) error {
	detail := ErrorDetail{Type: errorType(err), Message: err.Error()}
	var ce *compiler.CompilationError
	if errors.As(err, &ce) {
		detail.Stage = string(ce.Stage)
		if ce.Layer >= 0 {
			layer := ce.Layer
			detail.Layer = &layer
		}
	}
	metrics.RecordHTTPError(detail.Type)
	return c.JSON(http.StatusBadRequest, ErrorBody{Error: detail})
}

func errorType(err error) string {
	var (
		format   *weights.FormatError
		notFound *weights.NotFoundError
		params   *fxp.InvalidParamsError
		shape    *graph.ShapeMismatchError
		empty    *graph.EmptyGraphError
		topology *graph.InvalidTopologyError
		tensor   *compiler.TensorShapeError
		comp     *compiler.CompilationError
	)
	switch {
	case errors.As(err, &format):
		return "FormatError"
	case errors.As(err, &notFound):
		return "NotFoundError"
	case errors.As(err, &params):
		return "InvalidParamsError"
	case errors.As(err, &shape):
		return "ShapeMismatchError"
	case errors.As(err, &empty):
		return "EmptyGraphError"
	case errors.As(err, &topology):
		return "InvalidTopologyError"
	case errors.As(err, &tensor):
		return "TensorShapeError"
	case errors.As(err, &comp):
		return "CompilationError"
	default:
		return "invalid_request_error"
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
