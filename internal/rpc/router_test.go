package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamctl/streamd/internal/domain/pipeline"
	"github.com/streamctl/streamd/internal/engine"
	"github.com/streamctl/streamd/internal/engine/enginetest"
	"github.com/streamctl/streamd/internal/events"
	"github.com/streamctl/streamd/internal/infrastructure/logging"
)

func newTestRouter(t *testing.T) (*Router, *enginetest.Engine, *pipeline.Registry) {
	t.Helper()
	eng := enginetest.New()
	bus := events.NewBroadcaster(logging.NewNop(), 64)
	reg := pipeline.NewRegistry(eng, bus, logging.NewNop(), 0)
	t.Cleanup(func() {
		reg.Shutdown()
		bus.Close()
	})
	return NewRouter(reg, eng, logging.NewNop(), "1.2.3", 1024), eng, reg
}

func dispatch(t *testing.T, r *Router, method string, params string) Response {
	t.Helper()
	req := Request{ID: "req-1", Method: method}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return r.Dispatch(context.Background(), req)
}

func decodeResult(t *testing.T, resp Response, v any) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %v", resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, v))
}

func TestDispatchUnknownMethod(t *testing.T) {
	r, _, _ := newTestRouter(t)

	resp := dispatch(t, r, "reticulate_splines", "{}")

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "reticulate_splines")
	assert.Equal(t, "req-1", resp.ID)
}

func TestCreateThenInfoRoundTrip(t *testing.T) {
	r, _, _ := newTestRouter(t)

	resp := dispatch(t, r, "create_pipeline", `{"description":"videotestsrc ! fakesink"}`)
	var created CreatedResult
	decodeResult(t, resp, &created)
	assert.Equal(t, "pipeline_0", created.PipelineID)

	resp = dispatch(t, r, "get_pipeline_info", `{"pipeline_id":"pipeline_0"}`)
	var info InfoResult
	decodeResult(t, resp, &info)
	assert.Equal(t, "videotestsrc ! fakesink", info.Description)
	assert.Equal(t, "pipeline_0", info.ID)
}

func TestCreateParamValidation(t *testing.T) {
	r, _, _ := newTestRouter(t)

	resp := dispatch(t, r, "create_pipeline", "{}")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "description")

	resp = dispatch(t, r, "create_pipeline", `{"description": 42}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestCreateDescriptionTooLong(t *testing.T) {
	r, _, _ := newTestRouter(t)

	long := make([]byte, 2048)
	for i := range long {
		long[i] = 'a'
	}
	resp := dispatch(t, r, "create_pipeline", `{"description":"`+string(long)+`"}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeDescriptionTooLong, resp.Error.Code)
}

func TestCreateFailureClassification(t *testing.T) {
	r, eng, _ := newTestRouter(t)

	eng.BuildErr = errors.New("no decoder available for type video/x-h265")
	resp := dispatch(t, r, "create_pipeline", `{"description":"filesrc ! decodebin ! fakesink"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMediaNotSupported, resp.Error.Code)

	eng.BuildErr = errors.New("syntax error at \"!\"")
	resp = dispatch(t, r, "create_pipeline", `{"description":"filesrc !! fakesink"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeCreationFailed, resp.Error.Code)
}

func TestRemoveUnknownPipeline(t *testing.T) {
	r, _, _ := newTestRouter(t)

	resp := dispatch(t, r, "remove_pipeline", `{"pipeline_id":"ghost"}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodePipelineNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "ghost")
}

func TestSetStateValidation(t *testing.T) {
	r, _, _ := newTestRouter(t)
	dispatch(t, r, "create_pipeline", `{"description":"videotestsrc ! fakesink"}`)

	resp := dispatch(t, r, "set_state", `{"pipeline_id":"pipeline_0"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "state")

	resp = dispatch(t, r, "set_state", `{"pipeline_id":"pipeline_0","state":"sideways"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	resp = dispatch(t, r, "set_state", `{"pipeline_id":"pipeline_0","state":"null"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	resp = dispatch(t, r, "set_state", `{"pipeline_id":"pipeline_0","state":"playing"}`)
	var ok SuccessResult
	decodeResult(t, resp, &ok)
	assert.True(t, ok.Success)
}

func TestSetStateRefusedMapsToStateChangeFailed(t *testing.T) {
	r, eng, _ := newTestRouter(t)
	dispatch(t, r, "create_pipeline", `{"description":"videotestsrc ! fakesink"}`)
	eng.Built()[0].FailSetState("downstream not linked")

	resp := dispatch(t, r, "set_state", `{"pipeline_id":"pipeline_0","state":"playing"}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeStateChangeFailed, resp.Error.Code)
}

func TestPlayDefaultTarget(t *testing.T) {
	r, _, _ := newTestRouter(t)

	// Nothing registered: no default exists.
	resp := dispatch(t, r, "play", "{}")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeAmbiguousTarget, resp.Error.Code)

	dispatch(t, r, "create_pipeline", `{"description":"videotestsrc ! fakesink"}`)

	// The sole pipeline is the default target.
	resp = dispatch(t, r, "play", "{}")
	var ok SuccessResult
	decodeResult(t, resp, &ok)
	assert.True(t, ok.Success)

	dispatch(t, r, "create_pipeline", `{"description":"audiotestsrc ! fakesink"}`)

	// Two pipelines: an omitted id no longer resolves.
	resp = dispatch(t, r, "stop", "{}")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeAmbiguousTarget, resp.Error.Code)

	// An explicit id always does.
	resp = dispatch(t, r, "stop", `{"pipeline_id":"pipeline_0"}`)
	decodeResult(t, resp, &ok)
	assert.True(t, ok.Success)
}

func TestGetPosition(t *testing.T) {
	r, eng, _ := newTestRouter(t)
	dispatch(t, r, "create_pipeline", `{"description":"videotestsrc num-buffers=100 ! fakesink"}`)
	eng.Built()[0].SetPosition(2*time.Second, 10*time.Second)

	resp := dispatch(t, r, "get_position", "{}")

	var pos PositionResult
	decodeResult(t, resp, &pos)
	require.NotNil(t, pos.PositionNS)
	require.NotNil(t, pos.DurationNS)
	require.NotNil(t, pos.Progress)
	assert.Equal(t, (2 * time.Second).Nanoseconds(), *pos.PositionNS)
	assert.InDelta(t, 0.2, *pos.Progress, 1e-9)
}

func TestGetPositionClampsProgress(t *testing.T) {
	r, eng, _ := newTestRouter(t)
	dispatch(t, r, "create_pipeline", `{"description":"videotestsrc ! fakesink"}`)

	// Position can briefly overshoot duration around seeks.
	eng.Built()[0].SetPosition(11*time.Second, 10*time.Second)

	resp := dispatch(t, r, "get_position", "{}")
	var pos PositionResult
	decodeResult(t, resp, &pos)
	require.NotNil(t, pos.Progress)
	assert.Equal(t, 1.0, *pos.Progress)
}

func TestGetPositionUnavailable(t *testing.T) {
	r, _, _ := newTestRouter(t)
	dispatch(t, r, "create_pipeline", `{"description":"videotestsrc ! fakesink"}`)

	resp := dispatch(t, r, "get_position", "{}")

	var pos PositionResult
	decodeResult(t, resp, &pos)
	assert.Nil(t, pos.PositionNS)
	assert.Nil(t, pos.DurationNS)
	assert.Nil(t, pos.Progress)
}

func TestSnapshot(t *testing.T) {
	r, _, _ := newTestRouter(t)
	dispatch(t, r, "create_pipeline", `{"description":"videotestsrc ! fakesink"}`)

	missing := dispatch(t, r, "snapshot", `{"details":"states"}`)
	require.NotNil(t, missing.Error)
	assert.Equal(t, CodeInvalidParams, missing.Error.Code)

	resp := dispatch(t, r, "snapshot", `{"pipeline_id":"pipeline_0","details":"states"}`)

	var snap SnapshotResult
	decodeResult(t, resp, &snap)
	assert.Equal(t, "SnapshotResponse", snap.Type)
	require.Len(t, snap.Pipelines, 1)
	assert.Equal(t, "pipeline_0", snap.Pipelines[0].ID)
	assert.NotEmpty(t, snap.Pipelines[0].Dot)
}

func TestIntrospectionMethods(t *testing.T) {
	r, _, _ := newTestRouter(t)
	dispatch(t, r, "create_pipeline", `{"description":"videotestsrc ! fakesink"}`)

	var version VersionResult
	decodeResult(t, dispatch(t, r, "get_version", "{}"), &version)
	assert.Equal(t, "1.2.3", version.Version)

	var info DaemonInfoResult
	decodeResult(t, dispatch(t, r, "get_info", "{}"), &info)
	assert.Equal(t, "1.2.3", info.DaemonVersion)
	assert.Equal(t, "fake-0.0.1", info.EngineVersion)
	assert.Equal(t, Version, info.JSONRPCVersion)

	var count CountResult
	decodeResult(t, dispatch(t, r, "get_pipeline_count", "{}"), &count)
	assert.Equal(t, 1, count.Count)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", &pipeline.NotFoundError{ID: "x"}, CodePipelineNotFound},
		{"duplicate", &pipeline.DuplicateIDError{ID: "x"}, CodeDuplicateID},
		{"rejected", &pipeline.RejectedError{Err: errors.New("syntax error")}, CodeCreationFailed},
		{"unsupported media", &pipeline.RejectedError{Err: errors.New("missing plugin: h264parse")}, CodeMediaNotSupported},
		{"state change", &pipeline.StateChangeError{Target: engine.StatePlaying, Err: errors.New("refused")}, CodeStateChangeFailed},
		{"limit", &pipeline.LimitError{Max: 4}, CodeCreationFailed},
		{"ambiguous", pipeline.ErrAmbiguousTarget, CodeAmbiguousTarget},
		{"unknown", errors.New("disk on fire"), CodeInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := FromError("id-1", tc.err)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}
}
