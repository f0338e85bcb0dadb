// Package archive stores retention exports in S3 or an S3-compatible store.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/klauspost/compress/gzip"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/internal/config"
	"github.com/openctemio/invitations/pkg/logger"
)

// ErrDisabled is returned by NewS3Archiver when archiving is switched off.
var ErrDisabled = errors.New("archive disabled")

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes gzip-compressed objects under a fixed prefix.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
	logger *logger.Logger
}

var _ app.Archiver = (*S3Archiver)(nil)

// NewS3Archiver builds an S3 client from cfg. Static keys win over the
// default credential chain; RoleARN is assumed on top of either.
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig, log *logger.Logger) (*S3Archiver, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.RoleARN != "" {
		externalID := cfg.ExternalID
		awsCfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(
			sts.NewFromConfig(awsCfg), cfg.RoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = "invitations-archive"
				if externalID != "" {
					o.ExternalID = aws.String(externalID)
				}
			},
		))
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // MinIO
		})
	}

	return newS3Archiver(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix, log), nil
}

func newS3Archiver(client objectPutter, bucket, prefix string, log *logger.Logger) *S3Archiver {
	if log == nil {
		log = logger.NewNop()
	}
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: log.With("component", "s3_archiver"),
	}
}

// Archive compresses body and uploads it as <prefix>/<key>.gz.
func (a *S3Archiver) Archive(ctx context.Context, key string, body []byte) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return fmt.Errorf("failed to compress archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress archive: %w", err)
	}

	objectKey := a.objectKey(key)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(objectKey),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String(contentType(key)),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectKey, err)
	}

	a.logger.Info("archive uploaded",
		"bucket", a.bucket,
		"key", objectKey,
		"raw_bytes", len(body),
		"compressed_bytes", buf.Len(),
	)
	return nil
}

func (a *S3Archiver) objectKey(key string) string {
	key = strings.TrimLeft(key, "/") + ".gz"
	if a.prefix == "" {
		return key
	}
	return path.Join(a.prefix, key)
}

func contentType(key string) string {
	if strings.HasSuffix(key, ".csv") {
		return "text/csv"
	}
	return "application/octet-stream"
}
