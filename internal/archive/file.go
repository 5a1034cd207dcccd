package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hibiki-ai/hibiki/pkg/audio"
)

const (
	transcriptFile = "transcript.txt"
	replyFile      = "reply.txt"
	audioFile      = "audio.wav"
)

// FileStore saves each turn under <dir>/<turn-id>/ as plain files. It is
// the default backend and needs no external services.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir. The directory is created
// on first Save, not here.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("archive: dir must not be empty")
	}
	return &FileStore{dir: dir}, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, rec *Record) error {
	if rec.TurnID == uuid.Nil {
		return errors.New("archive: record has no turn id")
	}

	turnDir := filepath.Join(s.dir, rec.TurnID.String())
	if err := os.MkdirAll(turnDir, 0o755); err != nil {
		return fmt.Errorf("archive: create turn dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(turnDir, transcriptFile), []byte(rec.Transcript), 0o644); err != nil {
		return fmt.Errorf("archive: write transcript: %w", err)
	}
	if err := os.WriteFile(filepath.Join(turnDir, replyFile), []byte(rec.Reply), 0o644); err != nil {
		return fmt.Errorf("archive: write reply: %w", err)
	}

	if len(rec.Audio) > 0 {
		var wav bytes.Buffer
		if err := audio.WriteWAV(&wav, rec.Format, rec.Audio); err != nil {
			return fmt.Errorf("archive: encode wav: %w", err)
		}
		if err := os.WriteFile(filepath.Join(turnDir, audioFile), wav.Bytes(), 0o644); err != nil {
			return fmt.Errorf("archive: write audio: %w", err)
		}
	}

	return nil
}

// Dir returns the root directory records are written under.
func (s *FileStore) Dir() string { return s.dir }

// Ensure FileStore implements Store at compile time.
var _ Store = (*FileStore)(nil)
