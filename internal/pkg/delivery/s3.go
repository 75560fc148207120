package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mediavms/paywall/internal/pkg/config"
)

// S3Presigner signs GET requests for objects in the configured bucket.
type S3Presigner struct {
	presign *s3.PresignClient
	bucket  string
}

// NewS3Presigner creates the presigner for S3 or an S3 compatible service.
func NewS3Presigner(ctx context.Context, cfg config.S3Config) (*S3Presigner, error) {
	if !cfg.DeliveryEnabled {
		return nil, errors.New("S3 delivery is disabled")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// Backblaze B2 and MinIO need path-style URLs
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	return &S3Presigner{presign: s3.NewPresignClient(client), bucket: cfg.BucketName}, nil
}

func (p *S3Presigner) PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf(`attachment; filename="%s"`, filename))
	}
	req, err := p.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
