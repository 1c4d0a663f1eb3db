package pipeline_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/pipeline-worker/internal/clients/pipeline"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func TestExecute_SuccessReturnsStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/internal/execute-flow", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":     true,
			"executionId": "exec-1",
			"stats":       map[string]interface{}{"executed": 5, "failed": 0, "duration": 1.5},
		})
	}))
	defer srv.Close()

	c := pipeline.NewClient(srv.URL, "shh", 5*time.Second, newTestLogger(t))
	ok, stats, err := c.Execute(context.Background(), "proj-1", map[string]string{"job_id": "j1"}, false)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, stats.Executed)
}

func TestExecute_NonSuccessReturnsSanitizedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("api_key=sk-abcdef123456 bad config"))
	}))
	defer srv.Close()

	c := pipeline.NewClient(srv.URL, "shh", 5*time.Second, newTestLogger(t))
	ok, _, err := c.Execute(context.Background(), "proj-1", map[string]string{}, false)

	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[REDACTED]")
	assert.NotContains(t, err.Error(), "sk-abcdef123456")
}

func TestExecute_CancellationAbortsPromptly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	c := pipeline.NewClient(srv.URL, "shh", time.Minute, newTestLogger(t))
	ok, _, err := c.Execute(ctx, "proj-1", map[string]string{}, false)
	<-done

	assert.False(t, ok)
	require.Error(t, err)
}

func TestBuildGlobalVariables_InjectsRequiredKeysAndBatchFields(t *testing.T) {
	vars := pipeline.BuildGlobalVariables("j1", "s1", []byte(`{"q1":"a"}`), &pipeline.BatchFields{
		BatchID: "b1", OutputDir: "/out", FileName: "f.csv", RawText: "raw",
	}, nil)

	assert.Equal(t, "j1", vars["job_id"])
	assert.Equal(t, "s1", vars["job_session_id"])
	assert.Equal(t, `{"q1":"a"}`, vars["questionnaire_responses"])
	assert.Equal(t, "b1", vars["batch_id"])
	assert.Equal(t, "/out", vars["output_dir"])
	assert.Equal(t, "f.csv", vars["file_name"])
	assert.Equal(t, "raw", vars["raw_text"])
}

func TestBuildGlobalVariables_UserDataOverridesInjectedFields(t *testing.T) {
	vars := pipeline.BuildGlobalVariables("j1", "s1", []byte(`{}`), nil, map[string]interface{}{
		"job_id": "overridden",
		"extra":  42,
	})

	assert.Equal(t, "overridden", vars["job_id"])
	assert.Equal(t, "42", vars["extra"])
}
