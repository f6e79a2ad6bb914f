package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
)

// LocalArchiver keeps payloads on the local filesystem for development.
type LocalArchiver struct {
	dir    string
	prefix string
}

var _ billing.Archiver = (*LocalArchiver)(nil)

func NewLocalArchiver(cfg Config) (*LocalArchiver, error) {
	if cfg.LocalDir == "" {
		return nil, fmt.Errorf("%w: local dir is required", ErrInvalidConfig)
	}
	return &LocalArchiver{dir: cfg.LocalDir, prefix: cfg.Prefix}, nil
}

func (a *LocalArchiver) Archive(ctx context.Context, provider, eventID string, payload []byte) error {
	key, err := objectKey(a.prefix, provider, eventID)
	if err != nil {
		return err
	}
	path := filepath.Join(a.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	// Write then rename so readers never see a partial payload.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

func (a *LocalArchiver) Load(ctx context.Context, provider, eventID string) ([]byte, error) {
	key, err := objectKey(a.prefix, provider, eventID)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(filepath.Join(a.dir, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Join(ErrNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}
