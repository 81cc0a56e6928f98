package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/gendonholaholo/shopscrap/internal/extension"
	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestJobSocketStreamsEvents(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	job, err := f.queue.Submit(context.Background(), "scrape_search", nil)
	require.NoError(t, err)
	job.Status = scraper.JobStatusRunning
	require.NoError(t, f.store.ApplyTransition(context.Background(), job, scraper.TransitionOptions{Dequeue: true}))

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/jobs/"+job.ID), nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	snapshot := readFrame(t, conn)
	require.Equal(t, "connected", snapshot["event"])
	jobFrame := snapshot["job"].(map[string]any)
	require.Equal(t, job.ID, jobFrame["id"])
	require.Equal(t, "running", jobFrame["status"])

	require.NoError(t, f.queue.UpdateProgress(context.Background(), job.ID, 30))
	progress := readFrame(t, conn)
	require.Equal(t, "progress", progress["event"])
	require.Equal(t, float64(30), progress["progress"])

	cancelled, err := f.queue.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	completed := readFrame(t, conn)
	require.Equal(t, "completed", completed["event"])
	require.Equal(t, "cancelled", completed["status"])

	final := readFrame(t, conn)
	require.Equal(t, "final_status", final["event"])
	require.Equal(t, "cancelled", final["status"])

	// The server closes with a normal closure after final_status.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestJobSocketTerminalJobClosesImmediately(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	job, err := f.queue.Submit(context.Background(), "scrape_search", nil)
	require.NoError(t, err)
	_, err = f.queue.Cancel(context.Background(), job.ID)
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/jobs/"+job.ID), nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	snapshot := readFrame(t, conn)
	require.Equal(t, "connected", snapshot["event"])

	final := readFrame(t, conn)
	require.Equal(t, "final_status", final["event"])
	require.Equal(t, "cancelled", final["status"])
}

func TestJobSocketUnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/jobs/nope"), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestExtensionSocketLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/extension"), nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	env, err := extension.Enclose(extension.MsgRegister, extension.RegisterPayload{
		ExtensionID: "ext-1",
		UserAgent:   "Mozilla/5.0",
		Version:     "2.0.0",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	ack := readFrame(t, conn)
	require.Equal(t, "registered", ack["type"])
	payload := ack["payload"].(map[string]any)
	require.Equal(t, "ok", payload["status"])
	require.Equal(t, extension.ProtocolVersion, payload["server_version"])

	require.Eventually(t, f.manager.Available, 2*time.Second, 10*time.Millisecond)

	beat, err := extension.Enclose(extension.MsgHeartbeat, extension.HeartbeatPayload{ExtensionID: "ext-1"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(beat))
	pong := readFrame(t, conn)
	require.Equal(t, "pong", pong["type"])

	// Dropping the socket unregisters the worker.
	conn.Close()
	require.Eventually(t, func() bool { return !f.manager.Available() }, 2*time.Second, 10*time.Millisecond)
}

func TestExtensionSocketReconnectKeepsRegistration(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	dial := func(version string) *websocket.Conn {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/extension"), nil)
		require.NoError(t, err)
		resp.Body.Close()
		env, err := extension.Enclose(extension.MsgRegister, extension.RegisterPayload{
			ExtensionID: "ext-1",
			UserAgent:   "Mozilla/5.0",
			Version:     version,
		})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(env))
		ack := readFrame(t, conn)
		require.Equal(t, "registered", ack["type"])
		return conn
	}

	first := dial("1.0.0")
	defer first.Close()
	second := dial("2.0.0")
	defer second.Close()

	// The displaced socket's teardown runs asynchronously; the fresh
	// registration must survive it.
	time.Sleep(300 * time.Millisecond)
	require.True(t, f.manager.Available())

	beat, err := extension.Enclose(extension.MsgHeartbeat, extension.HeartbeatPayload{ExtensionID: "ext-1"})
	require.NoError(t, err)
	require.NoError(t, second.WriteJSON(beat))
	pong := readFrame(t, second)
	require.Equal(t, "pong", pong["type"])
}

func TestExtensionSocketRequiresRegisterFirst(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/extension"), nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	beat, err := extension.Enclose(extension.MsgHeartbeat, extension.HeartbeatPayload{ExtensionID: "ext-1"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(beat))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	require.False(t, f.manager.Available())
}
