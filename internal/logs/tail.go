package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// rescanInterval bounds how long Follow can miss an append when the
// filesystem drops events.
const rescanInterval = time.Second

// LastLines returns up to limit trailing lines of path and the offset just
// past the last complete line. A missing file yields no lines and offset 0.
func LastLines(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		info, err := file.Stat()
		if err != nil {
			return nil, 0, fmt.Errorf("stat log file: %w", err)
		}
		return nil, info.Size(), nil
	}

	ring := make([]string, 0, limit)
	offset, err := scanLines(file, 0, func(line string) {
		if len(ring) == limit {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line)
	})
	if err != nil {
		return nil, 0, err
	}
	return ring, offset, nil
}

// Follow calls emit for every complete line appended to path after offset
// and returns when ctx is done. If the file shrinks it is read again from
// the start.
func Follow(ctx context.Context, path string, offset int64, emit func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch log directory: %w", err)
	}

	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	offset, err = readFrom(path, offset, emit)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("log watcher: %w", err)
		case <-ticker.C:
		}
		if offset, err = readFrom(path, offset, emit); err != nil {
			return err
		}
	}
}

func readFrom(path string, offset int64, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset > info.Size() {
		offset = 0
	}
	return scanLines(file, offset, emit)
}

// scanLines emits complete lines starting at offset. A trailing fragment
// without a newline is left for the next read.
func scanLines(file *os.File, offset int64, emit func(string)) (int64, error) {
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		emit(strings.TrimRight(line, "\r\n"))
	}
}
