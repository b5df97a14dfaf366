package entity

import "testing"

func TestDownloadTaskProgressIsMonotonic(t *testing.T) {
	task := &DownloadTask{TaskID: "t1", Status: DownloadTaskPending}

	task.UpdateProgress(500, 1000)
	if task.Progress != 0.5 || task.Status != DownloadTaskInProgress {
		t.Fatalf("unexpected state after first update: %+v", task)
	}

	// A stale lower sample must not move progress backwards.
	task.UpdateProgress(200, 1000)
	if task.DownloadedBytes != 500 {
		t.Fatalf("progress went backwards: %d", task.DownloadedBytes)
	}

	task.UpdateProgress(1000, 1000)
	if task.Progress != 1.0 {
		t.Fatalf("expected progress 1.0, got %f", task.Progress)
	}
}

func TestDownloadTaskTerminalStatesAreSticky(t *testing.T) {
	task := &DownloadTask{TaskID: "t1", Status: DownloadTaskPending}
	task.Complete()

	task.Fail("late failure")
	if task.Status != DownloadTaskCompleted {
		t.Fatalf("completed is terminal, got %s", task.Status)
	}

	task.UpdateProgress(10, 100)
	if task.Progress != 1 {
		t.Fatalf("terminal task progress must not move, got %f", task.Progress)
	}
}

func TestDownloadTaskResetClearsState(t *testing.T) {
	task := &DownloadTask{TaskID: "t1", Status: DownloadTaskPending}
	task.UpdateProgress(500, 1000)
	task.Fail("disk full")

	task.Reset()

	if task.Status != DownloadTaskPending || task.Progress != 0 || task.Error != "" {
		t.Fatalf("reset did not clear state: %+v", task)
	}
}
