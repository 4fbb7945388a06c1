package results

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/registrar/pkg/config"
)

var tracer = otel.Tracer("registrar.results")

// S3Store implements Store and URLSigner on an S3 bucket.
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// NewS3Store creates an S3-backed result store from cfg. Static
// credentials are used when configured (MinIO, explicit keys),
// otherwise the default AWS credential chain applies.
func NewS3Store(ctx context.Context, cfg config.ResultsConfig) (*S3Store, error) {
	var awsConfig aws.Config
	var err error

	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.S3Bucket,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, jobID string, payload []byte, contentType string) (ResultRef, error) {
	ref := refFor(jobID, contentType)

	ctx, span := tracer.Start(ctx, "Results.Put",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", string(ref)),
			attribute.Int("content.size", len(payload)),
		),
	)
	defer span.End()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(string(ref)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload artifact")
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	return ref, nil
}

func (s *S3Store) Get(ctx context.Context, ref ResultRef) ([]byte, string, error) {
	ctx, span := tracer.Start(ctx, "Results.Get",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", string(ref)),
		),
	)
	defer span.End()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(ref)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch artifact")
		return nil, "", fmt.Errorf("failed to fetch artifact: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		span.RecordError(err)
		return nil, "", fmt.Errorf("failed to read artifact body: %w", err)
	}

	contentType := contentTypeFor(ref)
	if result.ContentType != nil {
		contentType = *result.ContentType
	}
	return data, contentType, nil
}

func (s *S3Store) Delete(ctx context.Context, ref ResultRef) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(ref)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context) ([]ResultRef, error) {
	var refs []ResultRef

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list artifacts: %w", err)
		}
		for _, obj := range page.Contents {
			refs = append(refs, ResultRef(*obj.Key))
		}
	}
	return refs, nil
}

// SignedURL returns a presigned GET URL for the artifact, valid for
// ttl. Callers download the artifact directly from S3.
func (s *S3Store) SignedURL(ctx context.Context, ref ResultRef, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(ref)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign artifact URL: %w", err)
	}
	return req.URL, nil
}
