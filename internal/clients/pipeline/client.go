// Package pipeline is the outbound HTTP client to the local analysis
// pipeline engine: a single long-running Execute call per job, honoring
// context-based cancellation and the two-tier timeout spec.md §4.3
// describes (a short connect timeout, a long overall deadline).
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/flowforge/pipeline-worker/internal/pkg/apierr"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/sanitize"
)

// Stats mirrors the pipeline's own execution/failure/duration
// counters for a single Execute call.
type Stats struct {
	Executed int
	Failed   int
	Duration time.Duration
}

type Client interface {
	// Execute invokes the pipeline engine synchronously. ctx carries
	// the job's cancelSignal: the idiomatic substitute for the spec's
	// abstract cancellation object is ctx cancellation, which this
	// client honors promptly by aborting the in-flight request.
	Execute(ctx context.Context, projectID string, globalVariables map[string]string, clearResults bool) (ok bool, stats Stats, err error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	secret     string
	httpClient *http.Client
	timeout    time.Duration
}

func NewClient(baseURL, secret string, timeout time.Duration, log *logger.Logger) Client {
	return &client{
		log:     log.With("component", "PipelineClient"),
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		timeout: timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 60 * time.Second}).DialContext,
			},
		},
	}
}

type executeRequest struct {
	ProjectID       string            `json:"projectId"`
	GlobalVariables map[string]string `json:"globalVariables"`
	ClearResults    bool              `json:"clearResults"`
}

type executeResponse struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"executionId"`
	Stats       struct {
		Executed int     `json:"executed"`
		Failed   int     `json:"failed"`
		Duration float64 `json:"duration"`
	} `json:"stats"`
}

func (c *client) Execute(ctx context.Context, projectID string, globalVariables map[string]string, clearResults bool) (bool, Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := executeRequest{ProjectID: projectID, GlobalVariables: globalVariables, ClearResults: clearResults}
	buf, err := json.Marshal(payload)
	if err != nil {
		return false, Stats{}, fmt.Errorf("encode execute-flow request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/internal/execute-flow", bytes.NewReader(buf))
	if err != nil {
		return false, Stats{}, fmt.Errorf("build execute-flow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, Stats{}, fmt.Errorf("pipeline execution aborted: %w", ctx.Err())
		}
		return false, Stats{}, sanitizedErr("pipeline request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return false, Stats{}, sanitizedErr("read pipeline response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := apierr.New(resp.StatusCode, "pipeline_execute_failed", fmt.Errorf("%s", string(body)))
		return false, Stats{}, fmt.Errorf("%s", sanitize.Error(apiErr.Error()))
	}

	var parsed executeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, Stats{}, sanitizedErr("decode pipeline response: %v", err)
	}

	stats := Stats{
		Executed: parsed.Stats.Executed,
		Failed:   parsed.Stats.Failed,
		Duration: time.Duration(parsed.Stats.Duration * float64(time.Second)),
	}
	return parsed.Success, stats, nil
}

func sanitizedErr(format string, args ...interface{}) error {
	return fmt.Errorf("%s", sanitize.Error(fmt.Sprintf(format, args...)))
}

// BuildGlobalVariables implements spec.md §4.3's variable-injection
// rules: always job_id/job_session_id/questionnaire_responses; batch
// jobs additionally get batch_id/output_dir/file_name/raw_text;
// userData fields are coerced to strings and applied last, so they
// override anything injected above.
func BuildGlobalVariables(jobID, sessionID string, responsesJSON []byte, batch *BatchFields, userData map[string]interface{}) map[string]string {
	vars := map[string]string{
		"job_id":                  jobID,
		"job_session_id":          sessionID,
		"questionnaire_responses": string(responsesJSON),
	}
	if batch != nil {
		vars["batch_id"] = batch.BatchID
		vars["output_dir"] = batch.OutputDir
		vars["file_name"] = batch.FileName
		vars["raw_text"] = batch.RawText
	}

	keys := make([]string, 0, len(userData))
	for k := range userData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vars[k] = coerceToString(userData[k])
	}
	return vars
}

// BatchFields carries the extra variables injected for batch jobs
// per spec.md §4.3.
type BatchFields struct {
	BatchID   string
	OutputDir string
	FileName  string
	RawText   string
}

func coerceToString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
