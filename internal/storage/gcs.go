package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ProviderGCS is the provider id for the Google Cloud Storage backend.
const ProviderGCS = "gcs"

const defaultPresignTTL = 15 * time.Minute

// GCSProvider mints V4 signed URLs against one bucket.
type GCSProvider struct {
	client *gcs.Client
	bucket string
}

// NewGCSProvider opens a GCS client for the bucket. credentialsFile may be
// empty to use ambient credentials.
func NewGCSProvider(ctx context.Context, bucket, credentialsFile string) (*GCSProvider, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage: gcs bucket is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create gcs client: %w", err)
	}

	return &GCSProvider{client: client, bucket: bucket}, nil
}

// ID implements Provider.
func (p *GCSProvider) ID() string {
	return ProviderGCS
}

// PresignUpload mints a signed PUT URL for the object key.
func (p *GCSProvider) PresignUpload(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return p.client.Bucket(p.bucket).SignedURL(key, &gcs.SignedURLOptions{
		Scheme:      gcs.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: contentType,
		Expires:     time.Now().UTC().Add(ttl),
	})
}

// PresignDownload mints a signed GET URL for the object key.
func (p *GCSProvider) PresignDownload(_ context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return p.client.Bucket(p.bucket).SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().UTC().Add(ttl),
	})
}

// Close releases the underlying client.
func (p *GCSProvider) Close() error {
	return p.client.Close()
}
