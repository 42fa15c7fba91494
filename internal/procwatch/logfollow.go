package procwatch

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is the poll-fallback cadence used alongside fsnotify,
// since some filesystems (notably network mounts) do not reliably deliver
// write/rename notifications.
const DefaultPollInterval = 2 * time.Second

// LogFollower tails a growing log file, feeding each complete line to a
// Watcher. It restarts from byte zero whenever the file at path is replaced
// by a new inode at the same name — the standard rotate-then-recreate
// logging convention.
type LogFollower struct {
	path string
	dest *Watcher
	poll time.Duration

	file   *os.File
	reader *bufio.Reader
	info   os.FileInfo
}

func NewLogFollower(path string, dest *Watcher) *LogFollower {
	return &LogFollower{path: path, dest: dest, poll: DefaultPollInterval}
}

// Run opens path and feeds lines to dest until ctx is cancelled or the file
// cannot be opened. Safe to run in its own goroutine; Run returns nil on a
// clean ctx cancellation.
func (f *LogFollower) Run(ctx context.Context) error {
	if err := f.open(); err != nil {
		return err
	}
	defer f.close()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(f.path)); err != nil {
		return err
	}

	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			f.drain()
			if ev.Op&(fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
				f.reopenIfRotated()
			}
		case _, ok := <-fw.Errors:
			if !ok {
				return nil
			}
		case <-ticker.C:
			f.drain()
			f.reopenIfRotated()
		}
	}
}

func (f *LogFollower) open() error {
	file, err := os.Open(f.path) // #nosec G304 -- operator-configured log path for a watched process
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	f.file = file
	f.reader = bufio.NewReader(file)
	f.info = info
	return nil
}

func (f *LogFollower) close() {
	if f.file != nil {
		_ = f.file.Close()
	}
}

// drain reads every complete line currently buffered without blocking on
// further growth, publishing each through dest.
func (f *LogFollower) drain() {
	if f.reader == nil {
		return
	}
	for {
		line, err := f.reader.ReadString('\n')
		if line != "" {
			f.dest.HandleLine(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

// reopenIfRotated reopens path if the file currently there is not the file
// we hold a handle on. Stat failing (file momentarily missing mid-rotation)
// is left for the next tick to retry.
func (f *LogFollower) reopenIfRotated() {
	info, err := os.Stat(f.path)
	if err != nil {
		return
	}
	if f.info != nil && os.SameFile(f.info, info) {
		return
	}
	f.close()
	_ = f.open()
}
