// Package storage persists uploaded WAR archives.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound indicates the artifact key does not exist.
var ErrNotFound = errors.New("storage: artifact not found")

// ErrExists indicates the key is already taken.
var ErrExists = errors.New("storage: artifact already exists")

// Store saves and retrieves artifacts by key.
type Store interface {
	Save(ctx context.Context, key string, r io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// ArtifactKey derives the stored name from the uploaded file name:
// the base name, an underscore and the upload instant in unix millis.
func ArtifactKey(original string, at time.Time) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stem = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, stem)
	if stem == "" {
		stem = "artifact"
	}
	return fmt.Sprintf("%s_%d%s", stem, at.UnixMilli(), strings.ToLower(ext))
}
