package archive

import (
	"context"
	"fmt"
)

// Store archives raw webhook payloads and reads them back for audits.
type Store interface {
	Archive(ctx context.Context, provider, eventID string, payload []byte) error
	Load(ctx context.Context, provider, eventID string) ([]byte, error)
}

// New builds the archiver named by cfg.Driver.
func New(ctx context.Context, cfg Config, opts ...S3Option) (Store, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Archiver(ctx, cfg, opts...)
	case "local":
		return NewLocalArchiver(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, cfg.Driver)
	}
}
