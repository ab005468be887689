// Package fs persists checkpoints on the local file system.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bft-labs/logship/internal/domain"
)

const checkpointFileName = "checkpoint.json"

type checkpointFile struct {
	SavedAt time.Time     `json:"saved_at"`
	Streams []streamToken `json:"streams"`
}

type streamToken struct {
	Group  string `json:"group"`
	Stream string `json:"stream"`
	Token  string `json:"token"`
}

// CheckpointFile implements ports.CheckpointRepository using a JSON file.
type CheckpointFile struct {
	dir string
}

// NewCheckpointFile creates a repository storing checkpoint.json in dir.
func NewCheckpointFile(dir string) *CheckpointFile {
	return &CheckpointFile{dir: dir}
}

// Load retrieves the last saved checkpoint from disk.
// Returns an empty checkpoint and nil error if no file exists.
func (r *CheckpointFile) Load(ctx context.Context) (domain.Checkpoint, error) {
	data, err := os.ReadFile(r.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Checkpoint{Tokens: map[domain.Target]string{}}, nil
		}
		return domain.Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}

	var file checkpointFile
	if err := json.Unmarshal(data, &file); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("parse checkpoint %s: %w", r.Path(), err)
	}

	cp := domain.Checkpoint{Tokens: make(map[domain.Target]string, len(file.Streams)), SavedAt: file.SavedAt}
	for _, s := range file.Streams {
		cp.Tokens[domain.Target{Group: s.Group, Stream: s.Stream}] = s.Token
	}
	return cp, nil
}

// Save persists the checkpoint atomically (temp file, then rename).
func (r *CheckpointFile) Save(ctx context.Context, cp domain.Checkpoint) error {
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	file := checkpointFile{SavedAt: cp.SavedAt, Streams: make([]streamToken, 0, len(cp.Tokens))}
	for t, token := range cp.Tokens {
		file.Streams = append(file.Streams, streamToken{Group: t.Group, Stream: t.Stream, Token: token})
	}
	sort.Slice(file.Streams, func(i, j int) bool {
		a, b := file.Streams[i], file.Streams[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Stream < b.Stream
	})

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := r.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmp, path)
}

// Path returns the full path to the checkpoint file.
func (r *CheckpointFile) Path() string {
	return filepath.Join(r.dir, checkpointFileName)
}
