package instance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrDuplicateInstance is returned by Acquire when a live watchdog
// already owns the workspace PID file.
var ErrDuplicateInstance = errors.New("watchdog instance already running")

// State is the persisted record of the running watchdog: the single
// source of truth for "is a watchdog already running for this workspace".
type State struct {
	PID       int   `json:"pid"`
	StartUnix int64 `json:"start_unix"`
}

// Handle owns an acquired PID file until Release.
type Handle struct {
	path string
	pid  int
}

func (h *Handle) Path() string { return h.path }
func (h *Handle) PID() int     { return h.pid }

// Release removes the PID record. Safe to call on clean exit paths only;
// a handle is never shared between processes.
func (h *Handle) Release() error {
	if h == nil || h.path == "" {
		return nil
	}
	err := os.Remove(h.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Acquire atomically creates the PID file for the current process.
// A live recorded PID refuses the second instance; a stale record
// (dead process, or PID reused by a different process) is removed and
// acquisition retried once.
func Acquire(path string) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		h, err := tryCreate(path)
		if err == nil {
			return h, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				// Vanished between create and read; retry the create.
				continue
			}
			return nil, readErr
		}
		if st, parseErr := parseState(raw); parseErr == nil && Alive(st) {
			return nil, fmt.Errorf("%w (pid %d)", ErrDuplicateInstance, st.PID)
		}
		// Stale or unreadable record: remove it, but only if it is still
		// the record judged stale. A racing starter may have replaced it
		// with its own live record in the meantime.
		if err := removeIfUnchanged(path, raw); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("could not acquire pid file %s", path)
}

// removeIfUnchanged removes path only when its content still matches
// prev. A changed or vanished file is left alone; the caller's next
// create attempt will see the new owner.
func removeIfUnchanged(path string, prev []byte) error {
	cur, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !bytes.Equal(cur, prev) {
		return nil
	}
	err = os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func tryCreate(path string) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	pid := os.Getpid()
	st := State{PID: pid, StartUnix: procStartUnix(pid)}
	meta, _ := json.Marshal(struct {
		StartUnix int64 `json:"start_unix"`
	}{st.StartUnix})
	_, werr := fmt.Fprintf(f, "%d\n%s\n", pid, meta)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		if werr != nil {
			return nil, werr
		}
		return nil, cerr
	}
	return &Handle{path: path, pid: pid}, nil
}

// Read parses a PID file: first line PID, optional JSON meta line with
// the process start time for PID-reuse detection.
func Read(path string) (State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	st, err := parseState(b)
	if err != nil {
		return State{}, fmt.Errorf("%s: %w", path, err)
	}
	return st, nil
}

func parseState(b []byte) (State, error) {
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	if len(lines) == 0 {
		return State{}, fmt.Errorf("empty pid file")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return State{}, fmt.Errorf("invalid pid: %w", err)
	}
	st := State{PID: pid}
	if len(lines) >= 2 {
		var m struct {
			StartUnix int64 `json:"start_unix"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &m); err == nil {
			st.StartUnix = m.StartUnix
		}
	}
	return st, nil
}

// Alive reports whether the recorded state still refers to a live
// process. A recorded start time that disagrees with the current
// process means the PID was reused: the record is stale.
func Alive(st State) bool {
	if st.PID <= 0 {
		return false
	}
	if st.StartUnix > 0 {
		if cur := procStartUnix(st.PID); cur > 0 && cur != st.StartUnix {
			return false
		}
	}
	return pidAlive(st.PID)
}

// pidAlive returns true if a process with given pid exists (or EPERM).
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Terminate sends SIGTERM to the recorded PID.
func Terminate(st State) error {
	if !Alive(st) {
		return fmt.Errorf("process %d is not running", st.PID)
	}
	return syscall.Kill(st.PID, syscall.SIGTERM)
}
