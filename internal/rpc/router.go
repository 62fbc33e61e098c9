package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/streamctl/streamd/internal/domain/pipeline"
	"github.com/streamctl/streamd/internal/engine"
	"github.com/streamctl/streamd/internal/infrastructure/logging"
	"github.com/streamctl/streamd/internal/infrastructure/monitoring"
)

// Result payload shapes.

// InfoResult describes one pipeline.
type InfoResult struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	State       string `json:"state"`
	Buffering   bool   `json:"buffering"`
	EOS         bool   `json:"eos"`
}

func infoResult(info pipeline.Info) InfoResult {
	return InfoResult{
		ID:          info.ID,
		Description: info.Description,
		State:       string(info.State),
		Buffering:   info.Buffering,
		EOS:         info.EOS,
	}
}

// ListResult is the result of list_pipelines.
type ListResult struct {
	Pipelines []InfoResult `json:"pipelines"`
}

// CreatedResult is the result of create_pipeline.
type CreatedResult struct {
	PipelineID string `json:"pipeline_id"`
}

// SuccessResult acknowledges a state-changing command.
type SuccessResult struct {
	Success bool `json:"success"`
}

// VersionResult is the result of get_version.
type VersionResult struct {
	Version string `json:"version"`
}

// DaemonInfoResult is the result of get_info.
type DaemonInfoResult struct {
	DaemonVersion  string `json:"daemon_version"`
	EngineVersion  string `json:"engine_version"`
	JSONRPCVersion string `json:"jsonrpc_version"`
}

// CountResult is the result of get_pipeline_count.
type CountResult struct {
	Count int `json:"count"`
}

// PositionResult is the result of get_position. Fields are null when the
// engine cannot answer; progress is present only for bounded media and is
// clamped to [0,1] because position can briefly overshoot duration.
type PositionResult struct {
	PositionNS *int64   `json:"position_ns"`
	DurationNS *int64   `json:"duration_ns"`
	Progress   *float64 `json:"progress"`
}

// SnapshotEntry is one rendered pipeline graph.
type SnapshotEntry struct {
	ID  string `json:"id"`
	Dot string `json:"dot"`
}

// SnapshotResult is the result of snapshot.
type SnapshotResult struct {
	Type      string          `json:"type"`
	Pipelines []SnapshotEntry `json:"pipelines"`
}

// Router dispatches requests onto the registry and its drivers. It is
// stateless per request and safe for concurrent use.
type Router struct {
	registry *pipeline.Registry
	eng      engine.Engine
	log      *logging.Logger
	metrics  *monitoring.Metrics

	version        string
	maxDescription int
}

// NewRouter creates a router. maxDescription <= 0 disables the description
// size limit.
func NewRouter(registry *pipeline.Registry, eng engine.Engine, log *logging.Logger, version string, maxDescription int) *Router {
	return &Router{
		registry:       registry,
		eng:            eng,
		log:            log.Named("rpc"),
		version:        version,
		maxDescription: maxDescription,
	}
}

// WithMetrics adds request metrics to the router.
func (r *Router) WithMetrics(m *monitoring.Metrics) *Router {
	r.metrics = m
	return r
}

// Dispatch executes one request and always produces a response.
func (r *Router) Dispatch(ctx context.Context, req Request) Response {
	start := time.Now()
	r.log.Debug("handling request",
		zap.String("method", req.Method),
		zap.String("id", req.ID))

	resp := r.dispatch(ctx, req)

	if r.metrics != nil {
		status := "ok"
		if resp.Error != nil {
			status = "error"
		}
		r.metrics.ObserveRPC(req.Method, status, time.Since(start))
	}
	return resp
}

func (r *Router) dispatch(ctx context.Context, req Request) Response {
	switch req.Method {
	case "list_pipelines":
		return r.listPipelines(req.ID)
	case "create_pipeline":
		return r.createPipeline(ctx, req)
	case "update_pipeline":
		return r.updatePipeline(ctx, req)
	case "remove_pipeline":
		return r.removePipeline(req)
	case "get_pipeline_info":
		return r.getPipelineInfo(req)
	case "set_state":
		return r.setState(req)
	case "play":
		return r.command(req, (*pipeline.Driver).Play)
	case "pause":
		return r.command(req, (*pipeline.Driver).Pause)
	case "stop":
		return r.command(req, (*pipeline.Driver).Stop)
	case "get_position":
		return r.getPosition(req)
	case "snapshot":
		return r.snapshot(req)
	case "get_version":
		return Success(req.ID, VersionResult{Version: r.version})
	case "get_info":
		return Success(req.ID, DaemonInfoResult{
			DaemonVersion:  r.version,
			EngineVersion:  r.eng.Version(),
			JSONRPCVersion: Version,
		})
	case "get_pipeline_count":
		return Success(req.ID, CountResult{Count: r.registry.Count()})
	default:
		return methodNotFound(req.ID, req.Method)
	}
}

// Parameter shapes. Pointer fields distinguish a missing member from an
// empty one, so validation errors can name the offending field.

type createParams struct {
	Description *string `json:"description"`
}

type idParams struct {
	PipelineID *string `json:"pipeline_id"`
}

type optionalIDParams struct {
	PipelineID string `json:"pipeline_id"`
}

type updateParams struct {
	PipelineID  *string `json:"pipeline_id"`
	Description *string `json:"description"`
}

type setStateParams struct {
	PipelineID *string `json:"pipeline_id"`
	State      *string `json:"state"`
}

type snapshotParams struct {
	PipelineID *string `json:"pipeline_id"`
	Details    string  `json:"details"`
}

func decodeParams(id string, raw json.RawMessage, v any) (Response, bool) {
	if len(raw) == 0 {
		return Response{}, true
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams(id, "invalid params: "+err.Error()), false
	}
	return Response{}, true
}

func (r *Router) listPipelines(id string) Response {
	ids := r.registry.List()
	infos := make([]InfoResult, 0, len(ids))
	for _, pid := range ids {
		drv, err := r.registry.Get(pid)
		if err != nil {
			continue // removed between List and Get
		}
		infos = append(infos, infoResult(drv.Info()))
	}
	return Success(id, ListResult{Pipelines: infos})
}

func (r *Router) validDescription(id, description string) (Response, bool) {
	if r.maxDescription > 0 && len(description) > r.maxDescription {
		return Fail(id, CodeDescriptionTooLong,
			fmt.Sprintf("pipeline description exceeds %d bytes", r.maxDescription)), false
	}
	return Response{}, true
}

func (r *Router) createPipeline(ctx context.Context, req Request) Response {
	var p createParams
	if resp, ok := decodeParams(req.ID, req.Params, &p); !ok {
		return resp
	}
	if p.Description == nil || *p.Description == "" {
		return missingParam(req.ID, "description")
	}
	if resp, ok := r.validDescription(req.ID, *p.Description); !ok {
		return resp
	}

	drv, err := r.registry.Add(ctx, "", *p.Description)
	if err != nil {
		return FromError(req.ID, err)
	}
	return Success(req.ID, CreatedResult{PipelineID: drv.ID()})
}

func (r *Router) updatePipeline(ctx context.Context, req Request) Response {
	var p updateParams
	if resp, ok := decodeParams(req.ID, req.Params, &p); !ok {
		return resp
	}
	if p.PipelineID == nil || *p.PipelineID == "" {
		return missingParam(req.ID, "pipeline_id")
	}
	if p.Description == nil || *p.Description == "" {
		return missingParam(req.ID, "description")
	}
	if resp, ok := r.validDescription(req.ID, *p.Description); !ok {
		return resp
	}

	if err := r.registry.Update(ctx, *p.PipelineID, *p.Description); err != nil {
		return FromError(req.ID, err)
	}
	return Success(req.ID, SuccessResult{Success: true})
}

func (r *Router) removePipeline(req Request) Response {
	var p idParams
	if resp, ok := decodeParams(req.ID, req.Params, &p); !ok {
		return resp
	}
	if p.PipelineID == nil || *p.PipelineID == "" {
		return missingParam(req.ID, "pipeline_id")
	}

	if err := r.registry.Remove(*p.PipelineID); err != nil {
		return FromError(req.ID, err)
	}
	return Success(req.ID, struct{}{})
}

func (r *Router) getPipelineInfo(req Request) Response {
	var p idParams
	if resp, ok := decodeParams(req.ID, req.Params, &p); !ok {
		return resp
	}
	if p.PipelineID == nil || *p.PipelineID == "" {
		return missingParam(req.ID, "pipeline_id")
	}

	drv, err := r.registry.Get(*p.PipelineID)
	if err != nil {
		return FromError(req.ID, err)
	}
	return Success(req.ID, infoResult(drv.Info()))
}

func (r *Router) setState(req Request) Response {
	var p setStateParams
	if resp, ok := decodeParams(req.ID, req.Params, &p); !ok {
		return resp
	}
	if p.PipelineID == nil || *p.PipelineID == "" {
		return missingParam(req.ID, "pipeline_id")
	}
	if p.State == nil {
		return missingParam(req.ID, "state")
	}

	target, err := engine.ParseState(*p.State)
	if err != nil {
		return invalidParams(req.ID, err.Error())
	}
	if target == engine.StateNull {
		return invalidParams(req.ID, "invalid state \"null\": valid values are ready, paused, playing")
	}

	drv, err := r.registry.Get(*p.PipelineID)
	if err != nil {
		return FromError(req.ID, err)
	}
	if err := drv.SetState(target); err != nil {
		return FromError(req.ID, err)
	}
	return Success(req.ID, SuccessResult{Success: true})
}

// command runs a play/pause/stop against the pipeline named in params, or
// the default pipeline when the id is omitted.
func (r *Router) command(req Request, op func(*pipeline.Driver) error) Response {
	var p optionalIDParams
	if resp, ok := decodeParams(req.ID, req.Params, &p); !ok {
		return resp
	}

	drv, err := r.registry.Resolve(p.PipelineID)
	if err != nil {
		return FromError(req.ID, err)
	}
	if err := op(drv); err != nil {
		return FromError(req.ID, err)
	}
	return Success(req.ID, SuccessResult{Success: true})
}

func (r *Router) getPosition(req Request) Response {
	var p optionalIDParams
	if resp, ok := decodeParams(req.ID, req.Params, &p); !ok {
		return resp
	}

	drv, err := r.registry.Resolve(p.PipelineID)
	if err != nil {
		return FromError(req.ID, err)
	}

	var result PositionResult
	if pos, dur, ok := drv.Position(); ok {
		posNS := pos.Nanoseconds()
		result.PositionNS = &posNS
		if dur > 0 {
			durNS := dur.Nanoseconds()
			result.DurationNS = &durNS
			progress := min(max(float64(posNS)/float64(durNS), 0), 1)
			result.Progress = &progress
		}
	}
	return Success(req.ID, result)
}

func (r *Router) snapshot(req Request) Response {
	var p snapshotParams
	if resp, ok := decodeParams(req.ID, req.Params, &p); !ok {
		return resp
	}
	if p.PipelineID == nil || *p.PipelineID == "" {
		return missingParam(req.ID, "pipeline_id")
	}

	drv, err := r.registry.Get(*p.PipelineID)
	if err != nil {
		return FromError(req.ID, err)
	}
	dot, err := drv.Snapshot(p.Details)
	if err != nil {
		return Fail(req.ID, CodeEngineError, err.Error())
	}
	return Success(req.ID, SnapshotResult{
		Type:      "SnapshotResponse",
		Pipelines: []SnapshotEntry{{ID: drv.ID(), Dot: dot}},
	})
}
