package e2e

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startExport(t *testing.T, ta *testApp, body string) string {
	t.Helper()
	resp, err := doRequest(ta.app, "POST", "/export", body)
	require.NoError(t, err)
	require.Equal(t, 202, resp.StatusCode)

	result := parseJSON(t, resp)
	taskID, ok := result["task_id"].(string)
	require.True(t, ok, "task_id missing: %v", result)
	require.NotEmpty(t, taskID)
	return taskID
}

func waitReady(t *testing.T, ta *testApp, taskID string) map[string]interface{} {
	t.Helper()
	var status map[string]interface{}
	require.Eventually(t, func() bool {
		resp, err := doRequest(ta.app, "GET", "/tasks/"+taskID, "")
		if err != nil || resp.StatusCode != 200 {
			return false
		}
		status = parseJSON(t, resp)
		return status["ready"] == true
	}, 15*time.Second, 100*time.Millisecond)
	return status
}

func TestExport_EndToEnd(t *testing.T) {
	ta := setupApp(t)

	taskID := startExport(t, ta, "")
	status := waitReady(t, ta, taskID)

	assert.Equal(t, taskID, status["task_id"])
	assert.Equal(t, "SUCCESS", status["state"])
	assert.Equal(t, true, status["successful"])
	info, ok := status["info"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), info["count"])

	resp, err := doRequest(ta.app, "GET", "/download/"+taskID, "")
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(readBody(t, resp)), "\n")
	assert.Equal(t, []string{"id,title,done", "1,Task 1,false", "2,Task 2,true"}, lines)
}

func TestExport_InvalidFiltersFail(t *testing.T) {
	ta := setupApp(t)

	taskID := startExport(t, ta, `{"filters":[1,2,3]}`)
	status := waitReady(t, ta, taskID)

	assert.Equal(t, "FAILURE", status["state"])
	assert.Equal(t, false, status["successful"])

	resp, err := doRequest(ta.app, "GET", "/download/"+taskID, "")
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "Task not completed", parseJSON(t, resp)["error"])
}

func TestExport_ConcurrentSubmissions(t *testing.T) {
	ta := setupApp(t)

	const n = 5
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := doRequest(ta.app, "POST", "/export", "")
			if !assert.NoError(t, err) || !assert.Equal(t, 202, resp.StatusCode) {
				return
			}
			var body struct {
				TaskID string `json:"task_id"`
			}
			defer resp.Body.Close()
			assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			ids[i] = body.TaskID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id])
		seen[id] = true

		status := waitReady(t, ta, id)
		assert.Equal(t, "SUCCESS", status["state"])
		info := status["info"].(map[string]interface{})
		assert.Contains(t, info["csv_path"], id)
	}
}
