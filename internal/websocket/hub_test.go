package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todoexport/api/internal/jobs"
	"github.com/todoexport/api/internal/model"
	"github.com/todoexport/api/internal/testutil"
)

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func receive(t *testing.T, ch <-chan []byte) model.WSStateMessage {
	t.Helper()
	select {
	case data := <-ch:
		var msg model.WSStateMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return model.WSStateMessage{}
	}
}

func TestHub_BroadcastJob(t *testing.T) {
	hub := newRunningHub(t)

	watcher := &Client{TaskID: "job-1", Send: make(chan []byte, 4)}
	other := &Client{TaskID: "job-2", Send: make(chan []byte, 4)}
	hub.Register(watcher)
	hub.Register(other)

	hub.BroadcastJob(&model.Job{
		ID:     "job-1",
		State:  model.JobStateSucceeded,
		Result: &model.ExportResult{CSVPath: "/exports/todos_export_job-1.csv", Count: 2},
	})

	msg := receive(t, watcher.Send)
	assert.Equal(t, model.WSMessageTypeState, msg.Type)
	assert.Equal(t, "job-1", msg.TaskID)
	assert.Equal(t, model.JobStateSucceeded, msg.State)
	assert.True(t, msg.Ready)
	assert.True(t, msg.Successful)
	assert.Equal(t, float64(2), msg.Info["count"])

	assert.Empty(t, other.Send)
}

func TestHub_Unregister(t *testing.T) {
	hub := newRunningHub(t)

	client := &Client{TaskID: "job-1", Send: make(chan []byte, 1)}
	hub.Register(client)
	assert.Eventually(t, func() bool { return hub.ClientCount("job-1") == 1 }, time.Second, 10*time.Millisecond)

	hub.Unregister(client)
	assert.Eventually(t, func() bool { return hub.ClientCount("job-1") == 0 }, time.Second, 10*time.Millisecond)

	_, open := <-client.Send
	assert.False(t, open)
}

func TestHub_DropsSlowConsumer(t *testing.T) {
	hub := newRunningHub(t)

	client := &Client{TaskID: "job-1", Send: make(chan []byte)}
	hub.Register(client)

	hub.BroadcastJob(&model.Job{ID: "job-1", State: model.JobStateStarted})
	assert.Eventually(t, func() bool { return hub.ClientCount("job-1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_ListenRelaysRedisEvents(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	hub := newRunningHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Listen(ctx, client) }()

	watcher := &Client{TaskID: "listen-job", Send: make(chan []byte, 4)}
	hub.Register(watcher)

	store := jobs.NewRedisStore(client, time.Minute)
	t.Cleanup(func() { client.Del(context.Background(), "export:job:listen-job") })

	// the subscription is set up asynchronously; publish until it is seen
	require.NoError(t, store.Advance(ctx, &model.Job{ID: "listen-job", State: model.JobStatePending}))
	assert.Eventually(t, func() bool {
		client.Publish(ctx, jobs.EventChannel("listen-job"), `{"id":"listen-job","state":"STARTED"}`)
		return len(watcher.Send) > 0
	}, 3*time.Second, 50*time.Millisecond)

	msg := receive(t, watcher.Send)
	assert.Equal(t, "listen-job", msg.TaskID)
}

func TestHub_StoppedHubDoesNotBlock(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	client := &Client{TaskID: "job-1", Send: make(chan []byte, 1)}
	done := make(chan struct{})
	go func() {
		hub.Register(client)
		hub.Unregister(client)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Register/Unregister blocked after the hub stopped")
	}
}

func TestHandleConnection(t *testing.T) {
	hub := newRunningHub(t)

	returned := make(chan struct{})
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws/tasks/:taskId", websocket.New(func(c *websocket.Conn) {
		defer close(returned)
		taskID := c.Params("taskId")
		hub.HandleConnection(c, taskID, &model.TaskStatusResponse{
			TaskID: taskID,
			State:  model.JobStatePending,
			Info:   map[string]interface{}{},
		})
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	conn, _, err := fastws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/tasks/job-1", nil)
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg model.WSStateMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "job-1", msg.TaskID)
	assert.Equal(t, model.JobStatePending, msg.State)

	assert.Eventually(t, func() bool { return hub.ClientCount("job-1") == 1 }, time.Second, 10*time.Millisecond)
	hub.BroadcastJob(&model.Job{ID: "job-1", State: model.JobStateStarted})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, model.JobStateStarted, msg.State)

	require.NoError(t, conn.WriteJSON(model.WSMessage{Type: model.WSMessageTypePing}))
	var pong model.WSMessage
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, model.WSMessageTypePong, pong.Type)

	require.NoError(t, conn.Close())

	// the handler only returns once its writer has stopped
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the client closed")
	}
	assert.Eventually(t, func() bool { return hub.ClientCount("job-1") == 0 }, time.Second, 10*time.Millisecond)
}
