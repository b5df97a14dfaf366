// Package lock enforces single-instance-per-port operation (spec.md §5):
// a per-port lockfile under LLMLB_DATA_DIR records {pid, port,
// started_at}; a stale lockfile (dead pid) is reclaimed rather than
// blocking startup.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/llmlb/llmlb/pkg/apperr"
)

// Info is the JSON shape persisted in the lockfile.
type Info struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
}

// Lock holds an acquired single-instance lockfile. Release must be called
// exactly once, typically via defer, when the process shuts down.
type Lock struct {
	path string
}

func pathFor(dataDir string, port int) string {
	return filepath.Join(dataDir, fmt.Sprintf("llmlb-%d.lock", port))
}

// Acquire claims the lockfile for port, reclaiming it first if the pid it
// names is no longer alive. It returns a Conflict AppError if a live
// process already holds it.
func Acquire(dataDir string, port int) (*Lock, error) {
	path := pathFor(dataDir, port)

	if existing, err := read(path); err == nil {
		if isAlive(existing.PID) {
			return nil, apperr.Conflict(fmt.Sprintf("port %d is already in use by pid %d", port, existing.PID))
		}
		// Stale: the recorded process is gone, reclaim the file.
	}

	info := Info{PID: os.Getpid(), Port: port, StartedAt: time.Now().UTC()}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, apperr.InternalWithCause("marshal lockfile", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, apperr.InternalWithCause("write lockfile", err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lockfile.
func (l *Lock) Release() error {
	return os.Remove(l.path)
}

// Read returns the Info persisted for port without acquiring it, used by
// the `status`/`stop` CLI subcommands.
func Read(dataDir string, port int) (*Info, error) {
	return read(pathFor(dataDir, port))
}

func read(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// isAlive reports whether pid names a live process by sending it the
// null signal, the standard liveness check on Unix.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
