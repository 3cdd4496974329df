package aws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/opsrelay/opsrelay/internal/relay/capability"
	"github.com/opsrelay/opsrelay/internal/relay/fix"
)

// Narrow views of the SDK clients, so tests can stand in for AWS.
type lambdaAPI interface {
	GetFunctionConfiguration(ctx context.Context, in *lambda.GetFunctionConfigurationInput, opts ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
}

type s3API interface {
	GetBucketVersioning(ctx context.Context, in *s3.GetBucketVersioningInput, opts ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error)
	GetBucketEncryption(ctx context.Context, in *s3.GetBucketEncryptionInput, opts ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error)
	GetPublicAccessBlock(ctx context.Context, in *s3.GetPublicAccessBlockInput, opts ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error)
}

type logsAPI interface {
	DescribeLogGroups(ctx context.Context, in *cloudwatchlogs.DescribeLogGroupsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
	FilterLogEvents(ctx context.Context, in *cloudwatchlogs.FilterLogEventsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// Reader reads resource snapshots directly from the service APIs. Snapshots
// carry only stable configuration attributes so that a validation re-read
// of an unchanged resource compares equal.
type Reader struct {
	lambda lambdaAPI
	s3     s3API
	logs   logsAPI
}

// NewReader wraps the SDK clients.
func NewReader(c *Clients) *Reader {
	return &Reader{lambda: c.Lambda, s3: c.S3, logs: c.Logs}
}

// ReadState dispatches on the resource's service prefix.
func (r *Reader) ReadState(ctx context.Context, resource string) (fix.State, error) {
	service, name, ok := strings.Cut(resource, ":")
	if !ok || name == "" {
		return nil, fmt.Errorf("malformed resource %q, want service:name", resource)
	}
	switch service {
	case "lambda":
		return r.lambdaState(ctx, name)
	case "s3":
		return r.bucketState(ctx, name)
	case "logs":
		return r.logGroupState(ctx, name)
	}
	return nil, fmt.Errorf("unsupported service %q in resource %q", service, resource)
}

func (r *Reader) lambdaState(ctx context.Context, name string) (fix.State, error) {
	out, err := r.lambda.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
		FunctionName: awssdk.String(name),
	})
	if err != nil {
		var notFound *lambdatypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: lambda:%s", capability.ErrResourceNotFound, name)
		}
		return nil, fmt.Errorf("get function configuration %s: %w", name, err)
	}

	state := fix.State{
		"MemorySize": strconv.Itoa(int(awssdk.ToInt32(out.MemorySize))),
		"Timeout":    strconv.Itoa(int(awssdk.ToInt32(out.Timeout))),
		"Runtime":    string(out.Runtime),
		"State":      string(out.State),
	}
	if out.Handler != nil {
		state["Handler"] = *out.Handler
	}
	return state, nil
}

func (r *Reader) bucketState(ctx context.Context, name string) (fix.State, error) {
	state := fix.State{}

	versioning, err := r.s3.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: awssdk.String(name)})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: s3:%s", capability.ErrResourceNotFound, name)
		}
		return nil, fmt.Errorf("get bucket versioning %s: %w", name, err)
	}
	status := string(versioning.Status)
	if status == "" {
		status = "Suspended"
	}
	state["Versioning"] = status

	encryption, err := r.s3.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: awssdk.String(name)})
	switch {
	case err != nil && errorCode(err) == "ServerSideEncryptionConfigurationNotFoundError":
		state["Encryption"] = "none"
	case err != nil:
		return nil, fmt.Errorf("get bucket encryption %s: %w", name, err)
	default:
		state["Encryption"] = "none"
		if sse := encryption.ServerSideEncryptionConfiguration; sse != nil && len(sse.Rules) > 0 {
			if def := sse.Rules[0].ApplyServerSideEncryptionByDefault; def != nil {
				state["Encryption"] = string(def.SSEAlgorithm)
			}
		}
	}

	public, err := r.s3.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: awssdk.String(name)})
	switch {
	case err != nil && errorCode(err) == "NoSuchPublicAccessBlockConfiguration":
		state["PublicAccessBlocked"] = "false"
	case err != nil:
		return nil, fmt.Errorf("get public access block %s: %w", name, err)
	default:
		blocked := false
		if c := public.PublicAccessBlockConfiguration; c != nil {
			blocked = awssdk.ToBool(c.BlockPublicAcls) && awssdk.ToBool(c.BlockPublicPolicy) &&
				awssdk.ToBool(c.IgnorePublicAcls) && awssdk.ToBool(c.RestrictPublicBuckets)
		}
		state["PublicAccessBlocked"] = strconv.FormatBool(blocked)
	}

	return state, nil
}

func (r *Reader) logGroupState(ctx context.Context, name string) (fix.State, error) {
	out, err := r.logs.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: awssdk.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("describe log groups %s: %w", name, err)
	}
	for _, group := range out.LogGroups {
		if awssdk.ToString(group.LogGroupName) != name {
			continue
		}
		state := fix.State{
			"RetentionInDays": strconv.Itoa(int(awssdk.ToInt32(group.RetentionInDays))),
		}
		if group.StoredBytes != nil {
			state["StoredBytes"] = strconv.FormatInt(*group.StoredBytes, 10)
		}
		return state, nil
	}
	return nil, fmt.Errorf("%w: logs:%s", capability.ErrResourceNotFound, name)
}

func isS3NotFound(err error) bool {
	switch errorCode(err) {
	case "NoSuchBucket", "NotFound":
		return true
	}
	return false
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
