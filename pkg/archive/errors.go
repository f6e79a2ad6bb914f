package archive

import "errors"

var (
	ErrInvalidConfig      = errors.New("archive: invalid config")
	ErrFailedToLoadConfig = errors.New("archive: failed to load aws config")
	ErrInvalidKey         = errors.New("archive: invalid provider or event id")
	ErrNotFound           = errors.New("archive: payload not found")
	ErrAccessDenied       = errors.New("archive: access denied")
	ErrBucketNotFound     = errors.New("archive: bucket not found")
	ErrUnavailable        = errors.New("archive: storage unavailable")
)
