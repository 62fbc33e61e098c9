// Package http is the REST control-plane bridge. It mirrors the RPC
// operation set for tooling that speaks plain HTTP instead of WebSocket:
// every route forwards into the same router, so both planes share one
// behavior.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/streamctl/streamd/internal/domain/pipeline"
	"github.com/streamctl/streamd/internal/infrastructure/logging"
	"github.com/streamctl/streamd/internal/rpc"
	"github.com/streamctl/streamd/internal/shared/id"
)

// Bridge serves the REST control plane.
type Bridge struct {
	router   *rpc.Router
	registry *pipeline.Registry
	log      *logging.Logger
}

// NewBridge creates the REST bridge over the given router and registry.
func NewBridge(router *rpc.Router, registry *pipeline.Registry, log *logging.Logger) *Bridge {
	return &Bridge{router: router, registry: registry, log: log.Named("bridge")}
}

// Register mounts the bridge routes on r.
func (b *Bridge) Register(r gin.IRouter) {
	r.GET("/version", b.forward("get_version", nil))
	r.GET("/info", b.forward("get_info", nil))

	p := r.Group("/pipelines")
	p.GET("", b.forward("list_pipelines", nil))
	p.POST("", b.create)
	p.GET("/count", b.forward("get_pipeline_count", nil))
	p.GET("/:id", b.forwardID("get_pipeline_info"))
	p.GET("/:id/description", b.description)
	p.GET("/:id/position", b.forwardID("get_position"))
	p.GET("/:id/snapshot", b.snapshot)
	p.POST("/:id/play", b.forwardID("play"))
	p.POST("/:id/pause", b.forwardID("pause"))
	p.POST("/:id/stop", b.forwardID("stop"))
	p.POST("/:id/state", b.setState)
	p.DELETE("/:id", b.forwardID("remove_pipeline"))
}

// forward dispatches a fixed method with fixed params.
func (b *Bridge) forward(method string, params any) gin.HandlerFunc {
	return func(c *gin.Context) {
		b.dispatch(c, method, params)
	}
}

// forwardID dispatches a fixed method with the path id as its target.
func (b *Bridge) forwardID(method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		b.dispatch(c, method, gin.H{"pipeline_id": c.Param("id")})
	}
}

type createRequest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// create registers a pipeline. Unlike the RPC create_pipeline it accepts
// an optional caller-chosen id.
func (b *Bridge) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	if req.ID == "" {
		b.dispatch(c, "create_pipeline", gin.H{"description": req.Description})
		return
	}

	drv, err := b.registry.Add(c.Request.Context(), req.ID, req.Description)
	if err != nil {
		writeError(c, rpc.FromError("", err).Error)
		return
	}
	c.JSON(http.StatusCreated, rpc.CreatedResult{PipelineID: drv.ID()})
}

type setStateRequest struct {
	State string `json:"state"`
}

func (b *Bridge) setState(c *gin.Context) {
	var req setStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	b.dispatch(c, "set_state", gin.H{"pipeline_id": c.Param("id"), "state": req.State})
}

// description returns just the launch description of one pipeline.
func (b *Bridge) description(c *gin.Context) {
	drv, err := b.registry.Get(c.Param("id"))
	if err != nil {
		writeError(c, rpc.FromError("", err).Error)
		return
	}
	c.JSON(http.StatusOK, gin.H{"description": drv.Info().Description})
}

func (b *Bridge) snapshot(c *gin.Context) {
	b.dispatch(c, "snapshot", gin.H{
		"pipeline_id": c.Param("id"),
		"details":     c.Query("details"),
	})
}

func (b *Bridge) dispatch(c *gin.Context, method string, params any) {
	req := rpc.Request{ID: id.NewRequestID().String(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		req.Params = raw
	}

	resp := b.router.Dispatch(c.Request.Context(), req)
	if resp.Error != nil {
		writeError(c, resp.Error)
		return
	}

	status := http.StatusOK
	if method == "create_pipeline" {
		status = http.StatusCreated
	}
	c.Data(status, "application/json", resp.Result)
}

// writeError maps wire error codes onto HTTP statuses.
func writeError(c *gin.Context, e *rpc.ErrorInfo) {
	status := http.StatusInternalServerError
	switch e.Code {
	case rpc.CodePipelineNotFound:
		status = http.StatusNotFound
	case rpc.CodeInvalidParams, rpc.CodeInvalidRequest, rpc.CodeAmbiguousTarget:
		status = http.StatusBadRequest
	case rpc.CodeCreationFailed, rpc.CodeDescriptionTooLong, rpc.CodeMediaNotSupported:
		status = http.StatusUnprocessableEntity
	case rpc.CodeDuplicateID, rpc.CodeStateChangeFailed:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": e.Message, "code": e.Code})
}
