// Package storage persists call artifacts (transcripts, issue lists, WAV
// tracks, bug reports) to a local directory or an S3-compatible bucket,
// optionally mirrored to Supabase Storage.
package storage

import (
	"context"
	"errors"
	"log/slog"
	"path"
)

// Store is a flat key space of immutable artifacts. Keys are forward-slash
// separated, e.g. "<call_id>/transcript.json". Implementations must be safe
// for concurrent use.
type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	// Get returns an error wrapping fs.ErrNotExist for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// CallKey joins a call id and an artifact name into a store key.
func CallKey(callID, name string) string { return path.Join(callID, name) }

// Uploader is a best-effort secondary destination.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body []byte) error
}

// Mirrored writes to a primary Store and copies every Put to the mirrors.
// Mirror failures are logged, never returned.
type Mirrored struct {
	Store
	mirrors []Uploader
	log     *slog.Logger
}

func NewMirrored(primary Store, logger *slog.Logger, mirrors ...Uploader) *Mirrored {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirrored{Store: primary, mirrors: mirrors, log: logger.With("component", "storage")}
}

func (m *Mirrored) Put(ctx context.Context, key, contentType string, body []byte) error {
	if err := m.Store.Put(ctx, key, contentType, body); err != nil {
		return err
	}
	var errs []error
	for _, u := range m.mirrors {
		if err := u.Upload(ctx, key, contentType, body); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.log.Warn("mirror upload failed", "key", key, "err", err)
	}
	return nil
}
