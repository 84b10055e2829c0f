package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// SupabaseConfig names a Supabase project bucket.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseMirror uploads artifacts to Supabase Storage.
type SupabaseMirror struct {
	client *supabase.Client
	bucket string
}

func NewSupabaseMirror(cfg SupabaseConfig) (*SupabaseMirror, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseMirror{client: client, bucket: cfg.Bucket}, nil
}

// Upload ignores ctx; the storage client has no context-aware calls.
func (s *SupabaseMirror) Upload(_ context.Context, key, _ string, body []byte) error {
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("failed to upload %s to Supabase: %w", key, err)
	}
	return nil
}

var _ Uploader = (*SupabaseMirror)(nil)
