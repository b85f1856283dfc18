package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"github.com/iliyamo/pairchat/internal/config"
)

var (
	defaultCacheControl = aws.String("private, max-age=31536000, immutable")
	aclPrivate          = aws.String("private")
)

// S3 uploads attachments to an S3-compatible bucket.
type S3 struct {
	bucket   string
	uploader *s3manager.Uploader
}

// NewS3 opens a session against cfg.Endpoint (path-style, so MinIO and
// friends work) with static credentials.
func NewS3(cfg config.BlobConfig) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 blob backend requires S3_BUCKET")
	}
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("s3 session: %w", err)
	}
	return &S3{bucket: cfg.Bucket, uploader: s3manager.NewUploader(sess)}, nil
}

// Put uploads data with a content type sniffed from its magic bytes.
func (s *S3) Put(ctx context.Context, name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	result, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(name),
		Body:         bytes.NewReader(data),
		ACL:          aclPrivate,
		ContentType:  aws.String(ContentType(data)),
		CacheControl: defaultCacheControl,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	zap.S().Debugw("file uploaded", "location", result.Location)
	return nil
}

// ContentType detects the MIME type of data, falling back to
// application/octet-stream.
func ContentType(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}
