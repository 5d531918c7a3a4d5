package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/ibeckermayer/mentionbot/internal/types"
)

// Exchange is one backend call, kept for debugging prompts.
type Exchange struct {
	Timestamp time.Time         `json:"timestamp"`
	EventID   string            `json:"event_id"`
	Backend   string            `json:"backend"`
	Kind      types.BackendKind `json:"kind"`
	System    string            `json:"system"`
	User      string            `json:"user"`
	ImageURL  string            `json:"image_url,omitempty"`
	History   []types.Turn      `json:"history,omitempty"`
	Response  string            `json:"response"`
	Error     string            `json:"error,omitempty"`
}

// Transcript records exchanges.
type Transcript interface {
	Save(ex Exchange) (string, error)
}

// DirTranscript writes each exchange to its own timestamped JSON file.
type DirTranscript struct {
	dir string
	seq atomic.Uint64
}

// NewDirTranscript creates dir if needed.
func NewDirTranscript(dir string) (*DirTranscript, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript dir: %w", err)
	}
	return &DirTranscript{dir: dir}, nil
}

// Save serializes ex and returns the file path.
func (d *DirTranscript) Save(ex Exchange) (string, error) {
	// Dashes instead of colons keep the name valid on every filesystem.
	name := fmt.Sprintf("%s-%04d.json", ex.Timestamp.UTC().Format("2006-01-02T15-04-05"), d.seq.Add(1)%10000)
	path := filepath.Join(d.dir, name)

	data, err := json.MarshalIndent(ex, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}
	return path, nil
}
