// Package api serves the compiler over HTTP.
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/fabric/internal/logger"
	"github.com/samcharles93/fabric/internal/metrics"
	"github.com/samcharles93/fabric/internal/version"
	"github.com/samcharles93/fabric/pkg/compiler"
	"github.com/samcharles93/fabric/pkg/fxp"
	"github.com/samcharles93/fabric/pkg/graph"
	"github.com/samcharles93/fabric/pkg/weights"
)

type Config struct {
	Log logger.Logger
	// Workers bounds per-request layer parallelism.
	Workers int
}

// Server is stateless between requests; every compile runs independently.
type Server struct {
	log     logger.Logger
	workers int
	clock   func() time.Time
	newID   func() string
}

func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		log:     log,
		workers: max(cfg.Workers, 1),
		clock:   time.Now,
		newID:   func() string { return "cmp_" + strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/compile", s.handleCompile)
	e.POST("/v1/lut", s.handleLUT)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) handleCompile(c *echo.Context) error {
	req, err := decodeJSON[CompileRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	layers := make([]graph.Layer, 0, len(req.Layers))
	for i, spec := range req.Layers {
		l, err := spec.Layer()
		if err != nil {
			return writeBadRequest(c, "layers["+strconv.Itoa(i)+"]: "+err.Error())
		}
		layers = append(layers, l)
	}
	inputSize := req.InputSize
	if inputSize == 0 && len(layers) > 0 {
		inputSize = layers[0].InputSize()
	}
	p := fxp.DefaultParams()
	if req.Params != nil {
		p = *req.Params
	}

	id := s.newID()
	log := s.log.With("compile_id", id)
	start := s.clock()
	reject := func(cerr *compiler.CompilationError) error {
		metrics.ObserveCompile(compiler.Stats{Layers: len(layers)}, cerr)
		log.Warn("compile rejected", "error", cerr)
		return writeDomainError(c, cerr)
	}

	// Params and topology are checked before weights are parsed.
	if err := p.Validate(); err != nil {
		return reject(&compiler.CompilationError{Layer: -1, Stage: compiler.StageParams, Err: err})
	}
	g := graph.New(inputSize)
	for _, l := range layers {
		if err := g.Append(l); err != nil {
			return reject(&compiler.CompilationError{Layer: g.Len(), Stage: compiler.StageGraph, Err: err})
		}
	}
	store, err := loadWeights(req)
	if err != nil {
		return reject(&compiler.CompilationError{Layer: -1, Stage: compiler.StageWeights, Err: err})
	}

	d, err := compiler.CompileGraph(c.Request().Context(), g, store, p,
		compiler.WithWorkers(s.workers),
		compiler.WithLogger(log),
		compiler.WithObserver(metrics.ObserveCompile),
	)
	if err != nil {
		log.Warn("compile failed", "error", err)
		return writeDomainError(c, err)
	}

	return c.JSON(http.StatusOK, buildCompileResponse(id, start, s.clock(), d, req.IncludeWords))
}

func loadWeights(req CompileRequest) (*weights.Store, error) {
	r := strings.NewReader(req.Weights)
	switch strings.ToLower(req.WeightsFormat) {
	case "", "text":
		return weights.Load(r)
	case "json":
		return weights.LoadJSON(r)
	default:
		return nil, &weights.FormatError{Msg: "unknown weights_format " + req.WeightsFormat}
	}
}

func buildCompileResponse(id string, start, end time.Time, d *compiler.Descriptor, words bool) CompileResponse {
	resp := CompileResponse{
		ID:         id,
		Object:     "compilation",
		CreatedAt:  start.Unix(),
		InputSize:  d.InputSize(),
		OutputSize: d.OutputSize(),
		Params:     d.Params(),
		Parameters: d.Parameters(),
		Clamped:    d.ClampCount(),
		Layers:     make([]LayerResult, d.Len()),
		DurationMS: float64(end.Sub(start).Microseconds()) / 1000,
	}
	if lut := d.Sigmoid(); lut != nil {
		resp.SigmoidEntries = lut.Len()
	}
	for i, l := range d.Layers() {
		lr := LayerResult{
			Index:      i,
			Spec:       graph.SpecOf(l.Spec()),
			DenseIndex: l.DenseIndex(),
			Clamped:    l.ClampCount(),
		}
		if w := l.Weights(); w != nil {
			lr.WeightShape = w.Shape()
			lr.BiasShape = l.Biases().Shape()
			if words {
				lr.Weights = w.Values()
				lr.Biases = l.Biases().Values()
			}
		}
		resp.Layers[i] = lr
	}
	return resp
}

func (s *Server) handleLUT(c *echo.Context) error {
	req, err := decodeJSON[LUTRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	p := fxp.DefaultParams()
	if req.Params != nil {
		p = *req.Params
	}
	lut, err := fxp.SigmoidLUT(p)
	if err != nil {
		return writeDomainError(c, err)
	}
	metrics.RecordLUT()

	resp := LUTResponse{
		Params:  p,
		Start:   lut.Start(),
		Step:    lut.Step(),
		Clamped: lut.ClampCount(),
		Entries: lut.Entries(),
	}
	if req.Bits {
		resp.Bits = make([]string, lut.Len())
		for k := range resp.Bits {
			resp.Bits[k] = lut.Bits(k)
		}
	}
	return c.JSON(http.StatusOK, resp)
}
