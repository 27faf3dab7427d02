package logs

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"stackctl/internal/runtime"
	"stackctl/pkg/logging"
)

// Source produces log lines until ctx is cancelled or the source ends.
type Source interface {
	Name() string
	Follow(ctx context.Context, emit func(line string)) error
}

// FileSource follows a file that other processes append to. The file does not
// need to exist yet; truncation restarts reading from the top.
type FileSource struct {
	Label string
	Path  string
	// Tail emits the last Tail existing lines first. Zero starts at the end of the file.
	Tail int
	// PollInterval re-checks the file in case a notification is missed.
	PollInterval time.Duration
}

func (s *FileSource) Name() string { return s.Label }

func (s *FileSource) Follow(ctx context.Context, emit func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}

	poll := s.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	f := &followedFile{path: s.Path}
	defer f.close()
	f.open(s.Tail, emit)
	f.drain(emit)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.Path) {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				f.close()
				continue
			}
			f.drain(emit)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Debug("LogAggregator", "watch error on %s: %v", s.Path, err)
		case <-ticker.C:
			f.drain(emit)
		}
	}
}

type followedFile struct {
	path    string
	file    *os.File
	reader  *bufio.Reader
	offset  int64
	pending string
}

// open positions the file either at its end or at the start of its last tail lines.
func (f *followedFile) open(tail int, emit func(string)) {
	file, err := os.Open(f.path)
	if err != nil {
		return
	}
	f.file = file
	f.reader = bufio.NewReader(file)

	if tail <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err == nil {
			f.offset = end
		}
		return
	}

	var last []string
	for {
		line, err := f.reader.ReadString('\n')
		f.offset += int64(len(line))
		if strings.HasSuffix(line, "\n") {
			last = append(last, strings.TrimRight(line, "\r\n"))
			if len(last) > tail {
				last = last[1:]
			}
		} else {
			f.pending = line
		}
		if err != nil {
			break
		}
	}
	for _, l := range last {
		emit(l)
	}
}

func (f *followedFile) drain(emit func(string)) {
	if f.file == nil {
		// the file did not exist yet; everything in it is new
		f.open(0, emit)
		if f.file == nil {
			return
		}
		if _, err := f.file.Seek(0, io.SeekStart); err != nil {
			return
		}
		f.reader.Reset(f.file)
		f.offset = 0
	}

	if info, err := f.file.Stat(); err == nil && info.Size() < f.offset {
		if _, err := f.file.Seek(0, io.SeekStart); err == nil {
			f.reader.Reset(f.file)
			f.offset = 0
			f.pending = ""
		}
	}

	for {
		line, err := f.reader.ReadString('\n')
		f.offset += int64(len(line))
		if strings.HasSuffix(line, "\n") {
			emit(strings.TrimRight(f.pending+line, "\r\n"))
			f.pending = ""
		} else {
			f.pending += line
		}
		if err != nil {
			return
		}
	}
}

func (f *followedFile) close() {
	if f.file != nil {
		f.file.Close()
	}
	f.file = nil
	f.reader = nil
	f.offset = 0
	f.pending = ""
}

// ServiceSource follows a service container's output through the runtime.
type ServiceSource struct {
	Runtime runtime.Runtime
	Service string
	Tail    int
}

func (s *ServiceSource) Name() string { return s.Service }

func (s *ServiceSource) Follow(ctx context.Context, emit func(string)) error {
	stream, err := s.Runtime.Logs(ctx, s.Service, runtime.LogOptions{Follow: true, Tail: s.Tail})
	if err != nil {
		return err
	}
	defer stream.Close()

	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(scanner.Text())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}
