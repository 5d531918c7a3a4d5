package dedup

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend keeps records in an append-only JSON-lines file. Each append
// is fsynced before returning. It has no cross-process lease support.
type FileBackend struct {
	mu   sync.Mutex
	path string
}

// NewFileBackend creates the parent directory for path.
func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return &FileBackend{path: path}, nil
}

func (f *FileBackend) LoadRecords(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

func (f *FileBackend) readLocked() ([]Record, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			// A torn final write is tolerated; anything else is corruption.
			if !scanner.Scan() {
				break
			}
			return nil, fmt.Errorf("failed to parse %s line %d: %w", f.path, line, err)
		}
		records = append(records, r)
	}
	return records, scanner.Err()
}

func (f *FileBackend) FindRecords(_ context.Context, keys []string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.readLocked()
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var records []Record
	for _, r := range all {
		if want[r.Key] {
			records = append(records, r)
		}
	}
	return records, nil
}

func (f *FileBackend) Append(_ context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.repairTailLocked(); err != nil {
		return fmt.Errorf("failed to repair %s: %w", f.path, err)
	}

	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// repairTailLocked makes sure the file ends with a newline before anything is
// appended. An unterminated last line left by a crash is completed when it
// holds a whole record and cut off otherwise.
func (f *FileBackend) repairTailLocked() error {
	file, err := os.OpenFile(f.path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	keep := int64(bytes.LastIndexByte(data, '\n') + 1)
	var r Record
	if err := json.Unmarshal(data[keep:], &r); err == nil {
		if _, err := file.WriteAt([]byte{'\n'}, size); err != nil {
			return err
		}
	} else if err := file.Truncate(keep); err != nil {
		return err
	}
	return file.Sync()
}

// Prune rewrites the file without records older than cutoffMs. The rewrite
// goes through a temp file and rename so a crash leaves the old file intact.
func (f *FileBackend) Prune(_ context.Context, cutoffMs int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.readLocked()
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	seen := make(map[string]bool, len(records))
	removed := 0
	for _, r := range records {
		if r.HandledAtMs < cutoffMs {
			removed++
			continue
		}
		if seen[r.Key] {
			continue
		}
		seen[r.Key] = true
		data, err := json.Marshal(r)
		if err != nil {
			tmp.Close()
			return 0, err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return 0, fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return removed, nil
}

func (f *FileBackend) Close() error { return nil }

var (
	_ Backend = (*FileBackend)(nil)
	_ Finder  = (*FileBackend)(nil)
)
