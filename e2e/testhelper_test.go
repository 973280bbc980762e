package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/todoexport/api/internal/config"
	"github.com/todoexport/api/internal/handler"
	"github.com/todoexport/api/internal/jobs"
	"github.com/todoexport/api/internal/middleware"
	"github.com/todoexport/api/internal/observability"
	"github.com/todoexport/api/internal/server"
	"github.com/todoexport/api/internal/service"
	"github.com/todoexport/api/internal/store"
	"github.com/todoexport/api/internal/testutil"
	"github.com/todoexport/api/internal/worker"
)

// testApp holds all components needed for testing
type testApp struct {
	app *fiber.App
	cfg *config.Config
}

// setupApp wires the web app and an in-process asynq worker against the
// test Redis database, using the demo export source. Skips when Redis is
// not running.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	redisClient := testutil.SetupTestRedis(t)
	brokerURL := "redis://" + testutil.RedisAddr() + "/15"

	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "error"},
		Redis: config.RedisConfig{
			BrokerURL:        brokerURL,
			ResultBackendURL: brokerURL,
		},
		Export: config.ExportConfig{
			Dir:    filepath.Join(t.TempDir(), "exports"),
			Queue:  "export-e2e",
			Source: "demo",
		},
		Worker: config.WorkerConfig{Concurrency: 2},
		// high enough that tests never get blocked
		RateLimit: config.RateLimitConfig{ExportPerHour: 10000},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics("e2e", "test")

	brokerConn, err := asynq.ParseRedisURI(brokerURL)
	if err != nil {
		t.Fatalf("invalid broker url: %v", err)
	}
	asynqClient := asynq.NewClient(brokerConn)
	t.Cleanup(func() { asynqClient.Close() })

	todoStore := store.NewMemoryStore()
	jobStore := jobs.NewRedisStore(redisClient, 0)

	srv, mux, err := worker.Setup(cfg, logger, jobStore, todoStore, metrics)
	if err != nil {
		t.Fatalf("failed to set up worker: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := worker.Run(ctx, srv, mux); err != nil {
			t.Errorf("worker: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	app := server.New(server.Deps{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Todos:       service.NewTodoService(todoStore),
		Exports:     service.NewExportService(jobStore, asynqClient, cfg.Export, metrics, logger),
		Health:      handler.NewHealthHandler(redisClient),
		RateLimiter: middleware.NewRateLimiter(redisClient, logger),
	})

	return &testApp{app: app, cfg: cfg}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}
