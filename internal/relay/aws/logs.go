package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

const (
	errorTailWindow = time.Hour
	errorTailLimit  = 5
)

// ErrorTail surfaces the most recent error lines of a resource's log group
// as troubleshooting evidence.
type ErrorTail struct {
	logs logsAPI
}

// NewErrorTail wraps the CloudWatch Logs client.
func NewErrorTail(c *Clients) *ErrorTail {
	return &ErrorTail{logs: c.Logs}
}

// RecentErrors returns up to a handful of error log lines from the last
// hour, oldest first. A resource without a derivable log group yields an
// empty slice.
func (t *ErrorTail) RecentErrors(ctx context.Context, resource string) ([]string, error) {
	group := logGroupFor(resource)
	if group == "" {
		return nil, nil
	}

	out, err := t.logs.FilterLogEvents(ctx, &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:  awssdk.String(group),
		FilterPattern: awssdk.String("?ERROR ?Error ?Exception"),
		StartTime:     awssdk.Int64(time.Now().Add(-errorTailWindow).UnixMilli()),
		Limit:         awssdk.Int32(errorTailLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("filter log events %s: %w", group, err)
	}

	var lines []string
	for _, event := range out.Events {
		msg := strings.TrimSpace(awssdk.ToString(event.Message))
		if msg == "" {
			continue
		}
		ts := time.UnixMilli(awssdk.ToInt64(event.Timestamp)).UTC()
		lines = append(lines, fmt.Sprintf("%s %s", ts.Format(time.RFC3339), msg))
	}
	return lines, nil
}

// logGroupFor maps a resource to its log group. Lambda functions log to a
// well-known group; explicit log groups pass through.
func logGroupFor(resource string) string {
	switch {
	case strings.HasPrefix(resource, "lambda:"):
		return "/aws/lambda/" + strings.TrimPrefix(resource, "lambda:")
	case strings.HasPrefix(resource, "logs:"):
		return strings.TrimPrefix(resource, "logs:")
	}
	return ""
}
