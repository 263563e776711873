package voicearchive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// Archive keeps a durable copy of every voice sample forwarded to the
// cloning vendor so clones can be rebuilt if the vendor loses them.
type Archive struct {
	s3Client *s3.Client
	config   *Config
}

// NewArchive creates an S3-backed voice sample archive
func NewArchive(cfg *Config) (*Archive, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("voice archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	archive := &Archive{
		s3Client: s3Client,
		config:   cfg,
	}

	if err := archive.testConnection(); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[VoiceArchive] Initialized S3 archive for bucket: %s", cfg.BucketName)
	return archive, nil
}

// testConnection checks the configured bucket is reachable
func (a *Archive) testConnection() error {
	_, err := a.s3Client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(a.config.BucketName),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", a.config.BucketName, err)
	}
	return nil
}

// StoreSample uploads a voice sample and returns the object key it was stored
// under.
func (a *Archive) StoreSample(ctx context.Context, userID uint, filename, contentType string, sample io.Reader) (string, error) {
	data, err := io.ReadAll(sample)
	if err != nil {
		return "", fmt.Errorf("failed to read sample: %w", err)
	}

	objectKey := fmt.Sprintf("samples/%d/%s%s", userID, uuid.New().String(), path.Ext(filename))

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.config.BucketName),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"original-filename": filename,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload sample: %w", err)
	}

	log.Infof("[VoiceArchive] Stored sample s3://%s/%s (%d bytes)", a.config.BucketName, objectKey, len(data))
	return objectKey, nil
}

// DeleteSample removes an archived sample
func (a *Archive) DeleteSample(ctx context.Context, objectKey string) error {
	_, err := a.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.config.BucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete sample %s: %w", objectKey, err)
	}
	return nil
}
