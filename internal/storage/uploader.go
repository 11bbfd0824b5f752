package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
	Prefix        string
}

// objectAPI is the subset of the S3 client the publisher needs.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// SitePublisher mirrors published projects to a bucket as static index.html files.
type SitePublisher struct {
	cfg    Config
	client objectAPI
}

func NewSitePublisher(cfg Config) (*SitePublisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("s3 public base url is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "sites"
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &SitePublisher{cfg: cfg, client: s3.New(options)}, nil
}

// Publish uploads the document and returns its public URL.
func (p *SitePublisher) Publish(ctx context.Context, projectID, html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", fmt.Errorf("project %s has no code to publish", projectID)
	}

	key := p.key(projectID)
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.cfg.Bucket),
		Key:          aws.String(key),
		Body:         strings.NewReader(html),
		ContentType:  aws.String("text/html; charset=utf-8"),
		CacheControl: aws.String("no-cache"),
		ACL:          types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("upload site to s3: %w", err)
	}
	return p.URL(projectID), nil
}

func (p *SitePublisher) Unpublish(ctx context.Context, projectID string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(p.key(projectID)),
	})
	if err != nil {
		return fmt.Errorf("delete site from s3: %w", err)
	}
	return nil
}

func (p *SitePublisher) URL(projectID string) string {
	return strings.TrimRight(p.cfg.PublicBaseURL, "/") + "/" + p.key(projectID)
}

func (p *SitePublisher) key(projectID string) string {
	return path.Join(strings.Trim(p.cfg.Prefix, "/"), projectID, "index.html")
}
