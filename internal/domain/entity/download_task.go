package entity

// DownloadTaskStatus is the lifecycle state of an xLLM model download.
type DownloadTaskStatus string

const (
	DownloadTaskPending    DownloadTaskStatus = "pending"
	DownloadTaskInProgress DownloadTaskStatus = "in_progress"
	DownloadTaskCompleted  DownloadTaskStatus = "completed"
	DownloadTaskFailed     DownloadTaskStatus = "failed"
)

var terminalDownloadStatuses = map[DownloadTaskStatus]bool{
	DownloadTaskCompleted: true,
	DownloadTaskFailed:    true,
}

// IsTerminal reports whether s is a sticky terminal state.
func (s DownloadTaskStatus) IsTerminal() bool { return terminalDownloadStatuses[s] }

// DownloadTask tracks an in-progress xLLM model download (spec.md §3).
type DownloadTask struct {
	TaskID         string
	EndpointID     string
	Model          string
	Status         DownloadTaskStatus
	Progress       float64
	DownloadedBytes int64
	TotalBytes      int64
	Error           string
}

// UpdateProgress advances the task's progress, refusing to move it
// backwards once a later progress value has been recorded and refusing
// to leave a terminal state (spec.md §3: "progress monotonic except on
// reset; terminal states are sticky").
func (t *DownloadTask) UpdateProgress(downloaded, total int64) {
	if t.Status.IsTerminal() {
		return
	}
	if total > 0 && downloaded >= t.DownloadedBytes {
		t.DownloadedBytes = downloaded
		t.TotalBytes = total
		t.Progress = float64(downloaded) / float64(total)
	}
	t.Status = DownloadTaskInProgress
}

// Reset explicitly restarts progress tracking (the documented exception to
// monotonic progress).
func (t *DownloadTask) Reset() {
	t.DownloadedBytes = 0
	t.TotalBytes = 0
	t.Progress = 0
	t.Status = DownloadTaskPending
	t.Error = ""
}

// Complete marks the task as finished successfully.
func (t *DownloadTask) Complete() {
	if t.Status.IsTerminal() {
		return
	}
	t.Status = DownloadTaskCompleted
	t.Progress = 1
}

// Fail marks the task as terminally failed.
func (t *DownloadTask) Fail(reason string) {
	if t.Status.IsTerminal() {
		return
	}
	t.Status = DownloadTaskFailed
	t.Error = reason
}
