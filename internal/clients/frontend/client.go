// Package frontend is the outbound HTTP client to the job-submission
// frontend: listing queued jobs and mirroring status transitions.
// Every failure here is non-fatal to the worker per spec.md §4.2 —
// the frontend is a best-effort mirror, never a dependency of
// correctness.
package frontend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/flowforge/pipeline-worker/internal/domain"
	"github.com/flowforge/pipeline-worker/internal/pkg/apierr"
	"github.com/flowforge/pipeline-worker/internal/pkg/httpx"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/sanitize"
)

type Client interface {
	// ListQueued returns at most limit queued jobs. Any error is
	// swallowed and logged; the caller always gets a (possibly empty)
	// slice, never an error, matching spec.md §4.2's "never halt the
	// worker" contract.
	ListQueued(ctx context.Context, limit int) []domain.Job

	// PatchStatus mirrors a local terminal/claim transition to the
	// frontend. Best-effort: failures are logged at warning level and
	// otherwise ignored.
	PatchStatus(ctx context.Context, jobID, status, errMsg string, completedAt *time.Time)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	secret     string
	httpClient *http.Client
}

func NewClient(baseURL, secret string, timeout time.Duration, log *logger.Logger) Client {
	return &client{
		log:     log.With("component", "FrontendClient"),
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
		},
	}
}

type listQueuedResponse struct {
	Jobs []rawJob `json:"jobs"`
}

type rawJob struct {
	ID        string          `json:"id"`
	JobID     string          `json:"jobId"`
	SessionID string          `json:"sessionId"`
	Mode      string          `json:"mode"`
	Responses json.RawMessage `json:"responses"`
	UserData  json.RawMessage `json:"userData"`
	CreatedAt *time.Time      `json:"createdAt"`
}

func (r rawJob) id() string {
	if r.ID != "" {
		return r.ID
	}
	return r.JobID
}

func datatypesJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}

func (c *client) ListQueued(ctx context.Context, limit int) []domain.Job {
	path := fmt.Sprintf("/api/external/jobs?status=queued&limit=%d", limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.log.Warn("failed to build ListQueued request", "error", sanitize.Error(err.Error()))
		return []domain.Job{}
	}
	req.Header.Set("X-External-Secret", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("ListQueued request failed", "error", sanitize.Error(err.Error()))
		return []domain.Job{}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		c.log.Warn("failed reading ListQueued response", "error", sanitize.Error(err.Error()))
		return []domain.Job{}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := apierr.New(resp.StatusCode, "list_queued_failed", fmt.Errorf("%s", string(body)))
		c.log.Warn("ListQueued returned non-2xx", "error", sanitize.Error(apiErr.Error()), "status", resp.StatusCode)
		return []domain.Job{}
	}

	var parsed listQueuedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.log.Warn("failed to decode ListQueued response", "error", sanitize.Error(err.Error()))
		return []domain.Job{}
	}

	jobs := make([]domain.Job, 0, len(parsed.Jobs))
	for _, r := range parsed.Jobs {
		j := domain.Job{
			ID:        r.id(),
			SessionID: r.SessionID,
			Mode:      r.Mode,
			Responses: datatypesJSON(r.Responses),
			UserData:  datatypesJSON(r.UserData),
			Status:    domain.StatusQueued,
		}
		if r.CreatedAt != nil {
			j.CreatedAt = *r.CreatedAt
		}
		if j.ID == "" {
			continue
		}
		jobs = append(jobs, j)
		if limit > 0 && len(jobs) >= limit {
			break
		}
	}
	return jobs
}

type patchStatusBody struct {
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// PatchStatus mirrors a status transition to the frontend. Best-effort
// per spec.md §4.2: a single retry is attempted for transient
// failures (timeouts, 429, 5xx) with a short jittered backoff, since
// this call never blocks the job's own terminal state — it only
// improves the odds the external view stays in sync.
func (c *client) PatchStatus(ctx context.Context, jobID, status, errMsg string, completedAt *time.Time) {
	payload := patchStatusBody{Status: status, Error: sanitize.Error(errMsg), CompletedAt: completedAt}
	buf, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("failed to encode PatchStatus body", "job_id", jobID, "error", err)
		return
	}

	const maxAttempts = 2
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryable, lastErr := c.patchStatusOnce(ctx, jobID, status, buf)
		if lastErr == nil {
			return
		}
		if !retryable || attempt == maxAttempts {
			c.log.Warn("PatchStatus failed, frontend mirror is best-effort", "job_id", jobID, "status", status, "attempt", attempt, "error", lastErr)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(httpx.JitterSleep(500 * time.Millisecond)):
		}
	}
}

// patchStatusOnce performs a single PATCH attempt. It returns whether
// the failure (if any) looks retryable, and the failure itself.
func (c *client) patchStatusOnce(ctx context.Context, jobID, status string, buf []byte) (retryable bool, err error) {
	path := fmt.Sprintf("/api/external/jobs/%s", jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return false, fmt.Errorf("build PatchStatus request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-External-Secret", c.secret)

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return httpx.IsRetryableError(doErr), fmt.Errorf("%s", sanitize.Error(doErr.Error()))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpx.IsRetryableHTTPStatus(resp.StatusCode), fmt.Errorf("non-2xx status %d", resp.StatusCode)
	}
	return false, nil
}
