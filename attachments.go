package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var errBadDataURL = errors.New("malformed data URL")

// DiskAttachmentStore writes uploaded payloads to a directory on disk.
// Names are a fresh uuid plus the upload's original extension, so two
// uploads in the same instant can never collide.
type DiskAttachmentStore struct {
	dir string
	log *slog.Logger
}

func NewDiskAttachmentStore(dir string, log *slog.Logger) (*DiskAttachmentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskAttachmentStore{dir: dir, log: log}, nil
}

// Store writes data and returns the generated file name as the
// attachment reference.
func (s *DiskAttachmentStore) Store(name string, data []byte) (string, error) {
	ref := uuid.NewString() + filepath.Ext(name)
	path := filepath.Join(s.dir, ref)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	s.log.Info("attachment stored", "ref", ref, "bytes", len(data))
	return ref, nil
}

// Dir returns the storage directory, for static serving.
func (s *DiskAttachmentStore) Dir() string {
	return s.dir
}

// decodeDataURL extracts the payload from a base64 data URL of the form
// "data:<mediatype>;base64,<payload>".
func decodeDataURL(dataURL string) ([]byte, error) {
	_, encoded, found := strings.Cut(dataURL, ",")
	if !found {
		return nil, errBadDataURL
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode attachment payload: %w", err)
	}
	return data, nil
}
