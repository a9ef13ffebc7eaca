package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"icsagenda/internal/fsutil"
	"icsagenda/internal/model"
)

const (
	eventsFile = "events.json"
	stampFile  = "last_update.txt"
)

// FileBackend keeps the snapshot as two files in one directory:
// events.json (an ordered JSON array of events) and last_update.txt (the
// stamp in StampLayout). Each file is replaced atomically via temp file and
// rename; events are written before the stamp so the stamp never announces
// events that are not on disk. If the stamp cannot be written, the previous
// events.json is put back so a failed Save leaves the old pair in place.
type FileBackend struct {
	dir string
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("store dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) Load(_ context.Context) (model.Snapshot, bool, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, eventsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, err
	}

	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode %s: %w", eventsFile, err)
	}

	raw, err := os.ReadFile(filepath.Join(b.dir, stampFile))
	if errors.Is(err, fs.ErrNotExist) {
		// Events without a stamp: treat the file's mtime as the commit time.
		info, statErr := os.Stat(filepath.Join(b.dir, eventsFile))
		if statErr != nil {
			return model.Snapshot{}, false, statErr
		}
		return model.Snapshot{Events: events, LastModified: info.ModTime()}, true, nil
	}
	if err != nil {
		return model.Snapshot{}, false, err
	}

	stamp, err := ParseStamp(strings.TrimSpace(string(raw)))
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode %s: %w", stampFile, err)
	}
	return model.Snapshot{Events: events, LastModified: stamp}, true, nil
}

func (b *FileBackend) Save(_ context.Context, snap model.Snapshot) error {
	data, err := json.MarshalIndent(snap.Events, "", "  ")
	if err != nil {
		return err
	}

	eventsPath := filepath.Join(b.dir, eventsFile)
	prev, err := os.ReadFile(eventsPath)
	hadPrev := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", eventsFile, err)
	}

	if err := fsutil.WriteFileAtomic(eventsPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", eventsFile, err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(b.dir, stampFile), []byte(FormatStamp(snap.LastModified)), 0o644); err != nil {
		if rerr := b.restoreEvents(eventsPath, prev, hadPrev); rerr != nil {
			return fmt.Errorf("write %s: %w (restore %s: %v)", stampFile, err, eventsFile, rerr)
		}
		return fmt.Errorf("write %s: %w", stampFile, err)
	}
	return nil
}

func (b *FileBackend) restoreEvents(path string, prev []byte, hadPrev bool) error {
	if !hadPrev {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return fsutil.WriteFileAtomic(path, prev, 0o644)
}

func (b *FileBackend) Close() error {
	return nil
}
