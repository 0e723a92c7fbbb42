package report

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSSink uploads reports to a Google Cloud Storage bucket.
type GCSSink struct {
	bucket          string
	credentialsFile string
}

// NewGCSSink uses credentialsFile when set, otherwise application default
// credentials. The client is created per upload.
func NewGCSSink(bucket, credentialsFile string) (*GCSSink, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	return &GCSSink{bucket: bucket, credentialsFile: credentialsFile}, nil
}

func (s *GCSSink) Name() string { return "gcs" }

func (s *GCSSink) Put(ctx context.Context, key string, data []byte, contentType string) error {
	var opts []option.ClientOption
	if s.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(s.credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create gcs client: %w", err)
	}
	defer client.Close()

	w := client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
