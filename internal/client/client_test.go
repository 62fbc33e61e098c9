package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamctl/streamd/internal/engine/enginetest"
	"github.com/streamctl/streamd/internal/events"
	"github.com/streamctl/streamd/internal/infrastructure/config"
	"github.com/streamctl/streamd/internal/infrastructure/server"
	"github.com/streamctl/streamd/internal/rpc"
)

func newDaemon(t *testing.T) (string, *enginetest.Engine) {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"

	eng := enginetest.New()
	srv, err := server.New(cfg, eng)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", eng
}

func TestCallRoundTrip(t *testing.T) {
	url, _ := newDaemon(t)

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	raw, err := c.Call(context.Background(), "get_version", nil)
	require.NoError(t, err)

	var version rpc.VersionResult
	require.NoError(t, json.Unmarshal(raw, &version))
	assert.Equal(t, server.Version, version.Version)
}

func TestCallSurfacesRPCErrors(t *testing.T) {
	url, _ := newDaemon(t)

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "remove_pipeline", map[string]string{"pipeline_id": "ghost"})

	var rpcErr *rpc.ErrorInfo
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodePipelineNotFound, rpcErr.Code)
}

func TestConcurrentCallsCorrelateByID(t *testing.T) {
	url, eng := newDaemon(t)
	eng.BuildDelay = 150 * time.Millisecond

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	// Issue the slow call first; the fast one must not wait behind it.
	slow, err := c.Go("create_pipeline", map[string]string{"description": "videotestsrc ! fakesink"})
	require.NoError(t, err)

	raw, err := c.Call(context.Background(), "get_pipeline_count", nil)
	require.NoError(t, err)
	var count rpc.CountResult
	require.NoError(t, json.Unmarshal(raw, &count))
	assert.Equal(t, 0, count.Count)

	select {
	case <-slow:
		t.Fatal("slow call finished before its engine build could")
	default:
	}

	resp, ok := <-slow
	require.True(t, ok)
	require.Nil(t, resp.Error)
	var created rpc.CreatedResult
	require.NoError(t, json.Unmarshal(resp.Result, &created))
	assert.Equal(t, "pipeline_0", created.PipelineID)
}

func TestEventHandler(t *testing.T) {
	url, _ := newDaemon(t)

	var mu sync.Mutex
	seen := make(map[events.Type]json.RawMessage)
	handler := func(ev events.Type, data json.RawMessage) {
		mu.Lock()
		seen[ev] = data
		mu.Unlock()
	}

	c, err := Dial(context.Background(), url, WithEventHandler(handler))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "create_pipeline", map[string]string{"description": "videotestsrc ! fakesink"})
	require.NoError(t, err)
	_, err = c.Call(context.Background(), "play", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		_, added := seen[events.TypePipelineAdded]
		_, changed := seen[events.TypeStateChanged]
		return added && changed
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	var data events.LifecycleData
	require.NoError(t, json.Unmarshal(seen[events.TypePipelineAdded], &data))
	mu.Unlock()
	assert.Equal(t, "pipeline_0", data.PipelineID)
}

func TestCloseAbandonsPendingCalls(t *testing.T) {
	url, eng := newDaemon(t)
	eng.BuildDelay = 300 * time.Millisecond

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)

	pending, err := c.Go("create_pipeline", map[string]string{"description": "videotestsrc ! fakesink"})
	require.NoError(t, err)

	require.NoError(t, c.Close())

	_, ok := <-pending
	assert.False(t, ok, "abandoned call must not produce a response")

	select {
	case <-c.Closed():
	default:
		t.Fatal("Closed must fire after Close")
	}

	_, err = c.Go("get_version", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUnrecognizedFramesReachRawHandler(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"mystery"}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	rawCh := make(chan []byte, 1)
	c, err := Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"),
		WithRawHandler(func(raw []byte) { rawCh <- raw }))
	require.NoError(t, err)
	defer c.Close()

	select {
	case raw := <-rawCh:
		assert.JSONEq(t, `{"kind":"mystery"}`, string(raw))
	case <-time.After(2 * time.Second):
		t.Fatal("raw handler never fired")
	}
}
