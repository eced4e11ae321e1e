package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/balancoor/pkg/config"
	"github.com/sirupsen/logrus"
)

type s3Backend struct {
	log    logrus.FieldLogger
	cfg    *config.S3Config
	format Format
	client *s3.Client
}

// Ensure interface compliance.
var _ Backend = (*s3Backend)(nil)

// NewS3Backend stores history as a single object in S3-compatible storage.
func NewS3Backend(log logrus.FieldLogger, cfg *config.S3Config) Backend {
	return &s3Backend{
		log:    log.WithField("component", "history-s3"),
		cfg:    cfg,
		format: FormatForPath(cfg.Key),
		client: newS3Client(cfg),
	}
}

func newS3Client(cfg *config.S3Config) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

func (b *s3Backend) Name() string {
	return fmt.Sprintf("s3://%s/%s", b.cfg.Bucket, b.cfg.Key)
}

func (b *s3Backend) Start(_ context.Context) error {
	return nil
}

func (b *s3Backend) Stop() error {
	return nil
}

// Load downloads and decodes the history object.
func (b *s3Backend) Load(ctx context.Context) (Document, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.cfg.Key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("getting object %q: %w", b.cfg.Key, ErrNotFound)
		}

		return nil, fmt.Errorf("getting object %q: %w", b.cfg.Key, err)
	}

	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", b.cfg.Key, err)
	}

	return DecodeDocument(b.format, data)
}

// Persist uploads the encoded document, replacing the previous object.
func (b *s3Backend) Persist(ctx context.Context, doc Document) error {
	data, err := doc.Encode(b.format)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	contentType := "application/json"
	if b.format == FormatYAML {
		contentType = "application/yaml"
	}

	if _, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(b.cfg.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}); err != nil {
		return fmt.Errorf("putting object %q: %w", b.cfg.Key, err)
	}

	b.log.WithFields(logrus.Fields{
		"bucket": b.cfg.Bucket,
		"key":    b.cfg.Key,
		"bytes":  len(data),
	}).Debug("History object written")

	return nil
}

// isS3NotFound returns true if the error indicates the object does not exist.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// Some S3-compatible implementations return a generic error with
	// "NoSuchKey" in the message rather than the typed error.
	return strings.Contains(err.Error(), "NoSuchKey")
}
