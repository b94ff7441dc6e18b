package scraper

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
)

var unsafeQueryChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ArtifactName builds the base name of a debug capture:
// <retailer>_<reason>_<query>_<YYYYMMDD_HHMMSS>, the query reduced to
// at most 30 filename-safe characters.
func ArtifactName(retailer, reason, query string, at time.Time) string {
	safe := unsafeQueryChars.ReplaceAllString(query, "_")
	if len(safe) > 30 {
		safe = safe[:30]
	}
	return fmt.Sprintf("%s_%s_%s_%s", retailer, reason, safe, at.Format("20060102_150405"))
}

// ArtifactSink stores the screenshot and HTML of a failed search
type ArtifactSink interface {
	Save(ctx context.Context, name string, screenshot []byte, html string) error
}

// NewArtifactSink returns the sink selected by artifacts.backend
func NewArtifactSink(cfg *config.Config) (ArtifactSink, error) {
	switch cfg.Artifacts.Backend {
	case "", "file":
		return NewFileSink(cfg.Scraper.DebugDir), nil
	case "spaces":
		return NewSpacesSink(cfg)
	default:
		return nil, fmt.Errorf("unsupported artifacts backend: %s", cfg.Artifacts.Backend)
	}
}

// FileSink writes <name>.png and <name>.html into a directory
type FileSink struct {
	dir string
}

// NewFileSink creates a sink writing into dir
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (f *FileSink) Save(ctx context.Context, name string, screenshot []byte, html string) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create debug directory: %w", err)
	}
	if len(screenshot) > 0 {
		if err := os.WriteFile(filepath.Join(f.dir, name+".png"), screenshot, 0o644); err != nil {
			return fmt.Errorf("failed to write screenshot: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(f.dir, name+".html"), []byte(html), 0o644); err != nil {
		return fmt.Errorf("failed to write HTML snapshot: %w", err)
	}
	return nil
}

// SpacesSink uploads artifacts to an S3-compatible DigitalOcean Spaces
// bucket
type SpacesSink struct {
	client     *s3.S3
	bucketName string
	prefix     string
	logger     types.Logger
}

// NewSpacesSink creates a DigitalOcean Spaces sink from artifacts.spaces
func NewSpacesSink(cfg *config.Config) (*SpacesSink, error) {
	logger := logging.GetGlobalLogger().WithField("component", "artifacts")
	spaces := cfg.Artifacts.Spaces

	if spaces.AccessKeyID == "" || spaces.AccessKeySecret == "" {
		return nil, fmt.Errorf("DigitalOcean Spaces credentials are required")
	}
	if spaces.BucketName == "" || spaces.Region == "" {
		return nil, fmt.Errorf("DigitalOcean Spaces bucket name and region are required")
	}

	endpoint := fmt.Sprintf("https://%s.digitaloceanspaces.com", spaces.Region)

	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials(spaces.AccessKeyID, spaces.AccessKeySecret, ""),
		Endpoint:         aws.String(endpoint),
		Region:           aws.String(spaces.Region),
		S3ForcePathStyle: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DigitalOcean Spaces session: %w", err)
	}

	logger.Info("DigitalOcean Spaces artifact sink initialized", map[string]interface{}{
		"bucket_name": spaces.BucketName,
		"region":      spaces.Region,
		"endpoint":    endpoint,
	})

	return &SpacesSink{
		client:     s3.New(sess),
		bucketName: spaces.BucketName,
		prefix:     strings.Trim(spaces.Prefix, "/"),
		logger:     logger,
	}, nil
}

func (s *SpacesSink) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *SpacesSink) Save(ctx context.Context, name string, screenshot []byte, html string) error {
	if len(screenshot) > 0 {
		if err := s.put(ctx, s.key(name+".png"), screenshot, "image/png"); err != nil {
			return err
		}
	}
	return s.put(ctx, s.key(name+".html"), []byte(html), "text/html; charset=utf-8")
}

func (s *SpacesSink) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         aws.String("private"),
	})
	if err != nil {
		s.logger.Error("Failed to upload debug artifact", map[string]interface{}{
			"object_key": key,
			"error":      err.Error(),
		})
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// IsHealthy checks that the bucket is reachable
func (s *SpacesSink) IsHealthy() bool {
	_, err := s.client.HeadBucket(&s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	if err != nil {
		s.logger.Error("DigitalOcean Spaces health check failed", map[string]interface{}{
			"bucket_name": s.bucketName,
			"error":       err.Error(),
		})
		return false
	}
	return true
}
