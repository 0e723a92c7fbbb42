package report

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/breeze-rmm/wsus/internal/config"
	"github.com/breeze-rmm/wsus/internal/logging"
)

var log = logging.L("report")

// Sink stores a serialized report under a key.
type Sink interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// NewSink builds the sink selected by cfg.Destination. It returns nil, nil
// when no destination is configured.
func NewSink(ctx context.Context, cfg config.ReportConfig) (Sink, error) {
	switch strings.ToLower(cfg.Destination) {
	case "":
		return nil, nil
	case "local":
		dir := cfg.LocalDir
		if dir == "" {
			dir = config.GetDataDir()
		}
		return NewLocalSink(dir), nil
	case "s3":
		return sinkOrErr(NewS3Sink(ctx, S3Options{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			SessionToken:    cfg.SessionToken,
		}))
	case "gcs":
		return sinkOrErr(NewGCSSink(cfg.Bucket, cfg.GCSCredentialsFile))
	case "azure":
		return sinkOrErr(NewAzureSink(cfg.Bucket, cfg.AzureConnectionString))
	case "b2":
		return sinkOrErr(NewB2Sink(cfg.Bucket, cfg.B2AccountID, cfg.B2ApplicationKey))
	default:
		return nil, fmt.Errorf("unknown report destination %q", cfg.Destination)
	}
}

// sinkOrErr keeps a nil concrete sink from becoming a non-nil Sink.
func sinkOrErr[S Sink](s S, err error) (Sink, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ObjectKey returns <prefix>/<server>/<UTC timestamp>.<ext>.
func ObjectKey(prefix, server string, t time.Time, f Format) string {
	name := t.UTC().Format("20060102T150405Z") + "." + f.Ext()
	return path.Join(strings.Trim(prefix, "/"), sanitizeSegment(server), name)
}

// sanitizeSegment keeps a host name usable as a single key segment.
func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, s)
}

// Publish serializes r and stores it in sink. It returns the object key.
func Publish(ctx context.Context, sink Sink, r *Report, f Format, prefix string) (string, error) {
	if sink == nil {
		return "", errors.New("no report sink configured")
	}
	data, err := r.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	key := ObjectKey(prefix, r.Server, r.FinishedAt, f)
	start := time.Now()
	if err := sink.Put(ctx, key, data, f.ContentType()); err != nil {
		return "", fmt.Errorf("%s: put %s: %w", sink.Name(), key, err)
	}
	log.Info("report published", "sink", sink.Name(), "key", key, "bytes", len(data),
		logging.KeyDurationMs, time.Since(start).Milliseconds())
	return key, nil
}
