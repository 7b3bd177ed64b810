package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"TopicToVideo-server/logger"

	"github.com/google/uuid"
)

// AI worker job types.
const (
	AIJobScript = "generate_script"
	AIJobSpeech = "generate_audio"
	AIJobImage  = "generate_image"
	AIJobRender = "render_video"
)

// AIJobResult is the resource a finished AI worker job points at.
type AIJobResult struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	ResourceURL  string `json:"resource_url"`
}

type aiJobStatus struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Result AIJobResult `json:"result"`
	Error  string      `json:"error"`
}

// AIClient talks to the generation worker: POST /v1/generate returns a job
// id, GET /v1/jobs/{id} is polled until the job finishes or fails.
type AIClient struct {
	endpoint     string
	http         *http.Client
	download     *http.Client // no overall timeout; ctx bounds large downloads
	pollInterval time.Duration
	timeout      time.Duration
	log          *logger.Logger
}

func NewAIClient(endpoint string, pollInterval, timeout time.Duration, log *logger.Logger) *AIClient {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AIClient{
		endpoint:     strings.TrimRight(endpoint, "/"),
		http:         &http.Client{Timeout: 5 * time.Minute},
		download:     &http.Client{},
		pollInterval: pollInterval,
		timeout:      timeout,
		log:          log.With("component", "ai-client"),
	}
}

// Run submits a job and waits for its result.
func (c *AIClient) Run(ctx context.Context, jobType, projectID string, params map[string]interface{}) (*AIJobResult, error) {
	jobID, err := c.Dispatch(ctx, jobType, projectID, params)
	if err != nil {
		return nil, err
	}
	return c.Poll(ctx, jobID)
}

// Dispatch submits a job and returns the worker's job id.
func (c *AIClient) Dispatch(ctx context.Context, jobType, projectID string, params map[string]interface{}) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"id":         uuid.NewString(),
		"project_id": projectID,
		"type":       jobType,
		"parameters": params,
		"created_at": time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %w", err)
	}

	url := c.endpoint + "/v1/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.log.Debug("dispatching job", "type", jobType, "project_id", projectID)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("worker request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2000))
		return "", fmt.Errorf("worker status code %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var respData map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("decode response failed: %w", err)
	}
	if id, ok := respData["id"].(string); ok && id != "" {
		return id, nil
	}
	if id, ok := respData["job_id"].(string); ok && id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: worker response missing job id", ErrGeneration)
}

// Poll waits for the job to reach a terminal state. Transient network and
// decode errors are retried until the timeout.
func (c *AIClient) Poll(ctx context.Context, jobID string) (*AIJobResult, error) {
	url := fmt.Sprintf("%s/v1/jobs/%s", c.endpoint, jobID)
	timeout := time.NewTimer(c.timeout)
	defer timeout.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timeout.C:
			return nil, fmt.Errorf("job %s: polling timeout after %s", jobID, c.timeout)
		case <-ctx.Done():
			return nil, fmt.Errorf("job %s: polling canceled: %w", jobID, ctx.Err())
		case <-ticker.C:
			status, err := c.fetchStatus(ctx, url)
			if err != nil {
				c.log.Warn("poll failed, retrying", "job_id", jobID, "error", err)
				continue
			}
			switch strings.ToLower(status.Status) {
			case "finished", "success", "completed", "succeeded":
				return &status.Result, nil
			case "failed", "error":
				return nil, fmt.Errorf("worker reported failure for job %s: %s", jobID, status.Error)
			}
		}
	}
}

func (c *AIClient) fetchStatus(ctx context.Context, url string) (*aiJobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}
	var status aiJobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}
	return &status, nil
}

// Fetch downloads a resource fully into memory.
func (c *AIClient) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	body, _, err := c.open(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Transfer streams a worker resource into object storage under key.
func (c *AIClient) Transfer(ctx context.Context, store ObjectStorage, result *AIJobResult, key, contentType string) (string, error) {
	if result == nil || result.ResourceURL == "" {
		return "", fmt.Errorf("%w: result has no resource url", ErrGeneration)
	}
	body, size, err := c.open(ctx, result.ResourceURL)
	if err != nil {
		return "", err
	}
	defer body.Close()
	return store.PutReader(ctx, key, body, size, contentType)
}

func (c *AIClient) open(ctx context.Context, sourceURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.download.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("download status: %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}
