package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Backblaze/blazer/b2"
)

// B2Sink uploads reports to a Backblaze B2 bucket.
type B2Sink struct {
	bucket    string
	accountID string
	appKey    string
}

// NewB2Sink validates the settings; authorization happens on upload.
func NewB2Sink(bucket, accountID, appKey string) (*B2Sink, error) {
	if bucket == "" || accountID == "" || appKey == "" {
		return nil, errors.New("b2 bucket, account id and application key are required")
	}
	return &B2Sink{bucket: bucket, accountID: accountID, appKey: appKey}, nil
}

func (s *B2Sink) Name() string { return "b2" }

func (s *B2Sink) Put(ctx context.Context, key string, data []byte, contentType string) error {
	client, err := b2.NewClient(ctx, s.accountID, s.appKey)
	if err != nil {
		return fmt.Errorf("authorize b2: %w", err)
	}
	bucket, err := client.Bucket(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("open b2 bucket: %w", err)
	}

	w := bucket.Object(key).NewWriter(ctx, b2.WithAttrsOption(&b2.Attrs{ContentType: contentType}))
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
