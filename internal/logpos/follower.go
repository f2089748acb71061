package logpos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nxadm/tail"
)

// Tracker stores read positions. *store.Store implements it.
type Tracker interface {
	ResumePosition(ctx context.Context, jail, path, fingerprint string) (int64, bool, error)
	RecordPosition(ctx context.Context, jail, path, fingerprint string, offset int64) error
}

// Line is one line read from a followed file.
type Line struct {
	Text string

	// Offset is the byte offset just past this line.
	Offset int64

	Time time.Time
}

// Options configures a Follower.
type Options struct {
	// Follow keeps reading as the file grows. Without it the follower
	// stops at end of file.
	Follow bool

	// Poll checks the file for changes by polling instead of inotify.
	Poll bool
}

// Follower reads a log file for one jail starting at the tracked position.
//
// Offsets assume "\n" line endings. Call Checkpoint to persist progress and
// Stop to release the file.
type Follower struct {
	jail        string
	path        string
	fingerprint string
	tracker     Tracker

	t      *tail.Tail
	lines  chan Line
	done   chan struct{}
	pumped chan struct{}
	once   sync.Once

	mu     sync.Mutex
	start  int64
	offset int64
}

// Follow opens path for jail and positions it at the offset stored in
// tracker, or at the beginning when the file is new, rotated or shorter
// than the stored offset.
func Follow(ctx context.Context, tracker Tracker, jail, path string, opts Options) (*Follower, error) {
	fp, err := Fingerprint(path)
	if err != nil {
		return nil, err
	}

	start, ok, err := tracker.ResumePosition(ctx, jail, path, fp)
	if err != nil {
		return nil, fmt.Errorf("follow %s: %w", path, err)
	}
	if !ok {
		start = 0
	}
	if info, err := os.Stat(path); err == nil && start > info.Size() {
		slog.Info("log file truncated, reading from start", "jail", jail, "path", path, "stored", start, "size", info.Size())
		start = 0
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    opts.Follow,
		Poll:      opts.Poll,
		MustExist: true,
		Location: &tail.SeekInfo{
			Offset: start,
			Whence: io.SeekStart,
		},
		Logger: tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("follow %s: %w", path, err)
	}

	f := &Follower{
		jail:        jail,
		path:        path,
		fingerprint: fp,
		tracker:     tracker,
		t:           t,
		lines:       make(chan Line),
		done:        make(chan struct{}),
		pumped:      make(chan struct{}),
		start:       start,
		offset:      start,
	}
	go f.pump()

	slog.Debug("following log", "jail", jail, "path", path, "offset", start, "resumed", ok)
	return f, nil
}

// pump forwards tail lines until the tail closes its channel. After Stop it
// keeps draining so the tail goroutine can exit.
func (f *Follower) pump() {
	defer close(f.pumped)
	defer close(f.lines)

	for tl := range f.t.Lines {
		if tl.Err != nil {
			slog.Warn("log read error", "jail", f.jail, "path", f.path, "error", tl.Err)
			continue
		}

		f.mu.Lock()
		line := Line{Text: tl.Text, Offset: f.offset + int64(len(tl.Text)) + 1, Time: tl.Time}
		f.mu.Unlock()

		// A line is consumed once delivered; lines dropped after Stop do
		// not advance the offset.
		select {
		case f.lines <- line:
			f.mu.Lock()
			f.offset = line.Offset
			f.mu.Unlock()
		case <-f.done:
		}
	}
}

// Lines returns the lines read. The channel closes at end of file when not
// following, or after Stop.
func (f *Follower) Lines() <-chan Line {
	return f.lines
}

// Path returns the followed file.
func (f *Follower) Path() string {
	return f.path
}

// Start returns the offset reading began at.
func (f *Follower) Start() int64 {
	return f.start
}

// Offset returns the byte offset just past the last line delivered.
func (f *Follower) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// Checkpoint records the current offset with the tracker. The offset is
// clamped to the file size so a final line without a newline is not
// overcounted. Checkpoint may be called after Stop.
func (f *Follower) Checkpoint(ctx context.Context) error {
	offset := f.Offset()
	if info, err := os.Stat(f.path); err == nil && offset > info.Size() {
		offset = info.Size()
	}
	if err := f.tracker.RecordPosition(ctx, f.jail, f.path, f.fingerprint, offset); err != nil {
		return fmt.Errorf("checkpoint %s: %w", f.path, err)
	}
	return nil
}

// Stop stops reading and waits for the tail to exit. Safe to call more than
// once.
func (f *Follower) Stop() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		if serr := f.t.Stop(); serr != nil && !errors.Is(serr, tail.ErrStop) {
			err = fmt.Errorf("stop %s: %w", f.path, serr)
		}
		f.t.Cleanup()
		<-f.pumped
	})
	return err
}
