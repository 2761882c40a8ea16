// Package follower tails a running job's stdout/stderr logs with O(1)
// memory: it reads forward from the last offset and blocks on fsnotify
// write events instead of busy-polling, waking immediately on new output
// and stopping once the job reaches a terminal status.
package follower

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/JTan2231/vizier/internal/jobstore"
	"github.com/JTan2231/vizier/internal/schederr"
)

// pollFallback bounds how long Follow waits on the watcher before
// re-checking the job's status, in case the job finished and its log file
// was never written to again (so no fsnotify event would ever arrive).
const pollFallback = 500 * time.Millisecond

// Follower streams one of a job's log files to a sink as it's written.
type Follower struct {
	Store jobstore.Store
}

// New wires a Follower to a job store.
func New(store jobstore.Store) *Follower {
	return &Follower{Store: store}
}

// Follow streams path to w starting from its current end (Follow does not
// replay history — callers that want the backlog should read the file
// directly first), returning when the job reaches a terminal status, ctx is
// done, or a read error occurs.
func (f *Follower) Follow(ctx context.Context, jobID, path string, w io.Writer) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		file, err = waitForCreate(ctx, path)
	}
	if err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "open log for follow", err)
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "seek to end of log", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "create log watcher", err)
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "watch log file", err)
	}

	reader := bufio.NewReader(file)
	for {
		if err := drain(reader, w); err != nil {
			return err
		}

		terminal, err := f.jobTerminal(jobID)
		if err != nil {
			return err
		}
		if terminal {
			return drain(reader, w)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return schederr.Wrap(schederr.KindIoFatal, "watch log file", err)
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
		case <-time.After(pollFallback):
			// falls back to polling so a job that finished without a final
			// write still stops the follower promptly.
		}
	}
}

func (f *Follower) jobTerminal(jobID string) (bool, error) {
	rec, err := f.Store.Load(jobID)
	if err != nil {
		return false, err
	}
	return rec.Status.IsTerminal(), nil
}

func drain(r *bufio.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	if err != nil && err != io.EOF {
		return schederr.Wrap(schederr.KindIoFatal, "drain log", err)
	}
	return nil
}

func waitForCreate(ctx context.Context, path string) (*os.File, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return nil, err
	}

	for {
		if f, err := os.Open(path); err == nil {
			return f, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-watcher.Events:
		case err := <-watcher.Errors:
			return nil, err
		}
	}
}
