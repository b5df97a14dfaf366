// Package download drives the xLLM-only model download operation
// (spec.md §3 DownloadTask, §4.2 "Model download -> xLLM only"). It is
// the one part of the balancer that talks to a backend's native
// management API rather than its OpenAI-compatible surface, grounded on
// the same http.Client-plus-JSON-decode shape the detect package uses
// for its probes.
package download

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/infrastructure/detect"
	"github.com/llmlb/llmlb/pkg/apperr"
	"github.com/llmlb/llmlb/pkg/safego"
)

const pollInterval = 2 * time.Second

// Coordinator starts and tracks xLLM model downloads.
type Coordinator struct {
	repo   repository.DownloadTaskRepository
	client *http.Client
	logger *zap.Logger
}

// New constructs a Coordinator.
func New(repo repository.DownloadTaskRepository, logger *zap.Logger) *Coordinator {
	return &Coordinator{repo: repo, client: &http.Client{Timeout: 30 * time.Second}, logger: logger}
}

type xllmDownloadRequest struct {
	Model string `json:"model"`
}

type xllmDownloadStatus struct {
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	Error           string  `json:"error"`
}

// Start kicks off a download on e for model, returning the new task
// immediately (202 Accepted at the HTTP boundary) while polling proceeds
// in the background.
func (c *Coordinator) Start(ctx context.Context, e *entity.Endpoint, model string) (*entity.DownloadTask, error) {
	if !detect.CapabilitiesFor(e.EndpointType).SupportsDownload {
		return nil, apperr.Validation("model download is only supported for xLLM endpoints")
	}

	task := &entity.DownloadTask{
		TaskID:     uuid.NewString(),
		EndpointID: e.ID,
		Model:      model,
		Status:     entity.DownloadTaskPending,
	}
	if err := c.repo.Save(ctx, task); err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(xllmDownloadRequest{Model: model})
	if err != nil {
		return nil, apperr.InternalWithCause("marshal download request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/api/models/download", bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperr.InternalWithCause("build download request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		task.Fail(err.Error())
		_ = c.repo.Save(ctx, task)
		return nil, apperr.BadGateway("failed to start download: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusInsufficientStorage {
		task.Fail("insufficient storage on backend")
		_ = c.repo.Save(ctx, task)
		return nil, apperr.InsufficientStorage("backend reports insufficient storage for this model")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		task.Fail("backend rejected download request")
		_ = c.repo.Save(ctx, task)
		return nil, apperr.BadGateway("backend rejected download request")
	}

	safego.Go(c.logger, "download-poll-"+task.TaskID, func() {
		c.poll(context.WithoutCancel(ctx), e, task)
	})

	return task, nil
}

func (c *Coordinator) poll(ctx context.Context, e *entity.Endpoint, task *entity.DownloadTask) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.pollOnce(ctx, e, task) {
				return
			}
		}
	}
}

// pollOnce fetches one progress update and reports whether the task has
// reached a terminal state.
func (c *Coordinator) pollOnce(ctx context.Context, e *entity.Endpoint, task *entity.DownloadTask) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.BaseURL+"/api/models/download/"+task.TaskID, nil)
	if err != nil {
		return false
	}
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("download progress poll failed", zap.String("task_id", task.TaskID), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	var status xllmDownloadStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false
	}

	switch status.Status {
	case "completed":
		task.Complete()
	case "failed":
		task.Fail(status.Error)
	default:
		task.UpdateProgress(status.DownloadedBytes, status.TotalBytes)
	}

	if err := c.repo.Save(ctx, task); err != nil {
		c.logger.Warn("failed to persist download progress", zap.String("task_id", task.TaskID), zap.Error(err))
	}
	return task.Status.IsTerminal()
}

// Progress returns the current state of a tracked download task.
func (c *Coordinator) Progress(ctx context.Context, taskID string) (*entity.DownloadTask, error) {
	return c.repo.Get(ctx, taskID)
}

// CancelForEndpoint fails every non-terminal task for a deleted endpoint
// so polling loops observe a terminal state and stop (spec.md §4.1:
// delete "cascades to associated models + in-flight download tasks").
func (c *Coordinator) CancelForEndpoint(ctx context.Context, endpointID string) {
	tasks, err := c.repo.ListForEndpoint(ctx, endpointID)
	if err != nil {
		c.logger.Warn("failed to list download tasks for deleted endpoint", zap.String("endpoint_id", endpointID), zap.Error(err))
		return
	}
	for _, task := range tasks {
		if task.Status.IsTerminal() {
			continue
		}
		task.Fail("endpoint deleted")
		if err := c.repo.Save(ctx, task); err != nil {
			c.logger.Warn("failed to persist cancelled download task", zap.String("task_id", task.TaskID), zap.Error(err))
		}
	}
}
