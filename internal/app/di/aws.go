// Package di provides dependency injection factories for creating application components.
package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"account_backend/internal/platform/config"
	infrahttp "account_backend/internal/platform/http"
)

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// NewAWSConfig creates the SDK configuration shared by the SES and Secrets Manager clients.
// Static credentials and a custom endpoint are used when set (e.g. LocalStack);
// otherwise the default credential chain applies.
func NewAWSConfig(ctx context.Context, cfg config.AWS) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(infrahttp.NewHTTPClient(cfg.HTTPTimeout)),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return awsCfg, nil
}
