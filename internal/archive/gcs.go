package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCS uploads snapshots to a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a GCS-backed archive. Authentication is handled via
// Google's Application Default Credentials. The bucket is probed once so
// misconfiguration fails at startup rather than on the first cycle.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("probe GCS bucket %q: %w", bucket, err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Save uploads data as a JSON object in the configured bucket.
func (g *GCS) Save(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return fmt.Errorf("object name is required")
	}
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for object %s: %w", name, err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (g *GCS) Close() error {
	return g.client.Close()
}
