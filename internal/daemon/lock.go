// Package daemon tracks the running API server through a lock file holding
// its PID and listen address.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrAlreadyRunning is returned by Acquire when a live server holds the lock.
var ErrAlreadyRunning = errors.New("server already running")

// Info is the content of the lock file.
type Info struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a lock file at Path.
type Lock struct {
	Path string
}

// NewLock creates a Lock for the given path.
func NewLock(path string) *Lock {
	return &Lock{Path: path}
}

// Acquire records the current process as the server listening on addr.
// A lock left behind by a dead process is replaced.
func (l *Lock) Acquire(addr string) error {
	if info, ok := l.Running(); ok {
		return fmt.Errorf("%w (pid %d on %s)", ErrAlreadyRunning, info.PID, info.Addr)
	}
	return l.write(Info{PID: os.Getpid(), Addr: addr, StartedAt: time.Now().UTC()})
}

func (l *Lock) write(info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(l.Path, append(data, '\n'), 0o644)
}

// Read returns the lock file content.
func (l *Lock) Read() (*Info, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil || info.PID <= 0 {
		return nil, fmt.Errorf("invalid lock file %s", l.Path)
	}
	return &info, nil
}

// Running reports whether the lock names a live process.
func (l *Lock) Running() (*Info, bool) {
	info, err := l.Read()
	if err != nil {
		return nil, false
	}
	return info, processAlive(info.PID)
}

// Release removes the lock if it belongs to the current process.
func (l *Lock) Release() error {
	info, err := l.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.PID != os.Getpid() {
		return nil
	}
	return os.Remove(l.Path)
}

// Stop asks the locked server to shut down gracefully.
func (l *Lock) Stop() (*Info, error) {
	info, ok := l.Running()
	if !ok {
		return nil, errors.New("server not running")
	}
	if err := terminate(info.PID); err != nil {
		return info, fmt.Errorf("signal pid %d: %w", info.PID, err)
	}
	return info, nil
}
