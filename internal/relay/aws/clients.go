// Package aws adapts the AWS SDK service clients to the snapshot and log
// interfaces the capability handlers consume. Resources are addressed with
// service-qualified names: "lambda:payment-api", "s3:backups", or
// "logs:/aws/lambda/payment-api".
package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig selects the account and, optionally, a non-default endpoint
// for local stacks.
type ClientConfig struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Clients bundles the service clients the relay reads state from.
type Clients struct {
	Lambda *lambda.Client
	S3     *s3.Client
	Logs   *cloudwatchlogs.Client
}

// NewClients builds the service clients from the default credential chain,
// overridden by static credentials and endpoint when configured.
func NewClients(ctx context.Context, cfg ClientConfig) (*Clients, error) {
	loadOpts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts,
			awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Clients{
		Lambda: lambda.NewFromConfig(awsCfg, func(o *lambda.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = awssdk.String(cfg.Endpoint)
			}
		}),
		S3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = awssdk.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		}),
		Logs: cloudwatchlogs.NewFromConfig(awsCfg, func(o *cloudwatchlogs.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = awssdk.String(cfg.Endpoint)
			}
		}),
	}, nil
}
