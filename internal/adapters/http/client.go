// Package http implements ports.LogService over the CloudWatch Logs JSON
// protocol (application/x-amz-json-1.1).
//
// Requests are sent unsigned to the configured endpoint. Deployments that
// talk to AWS directly put a signing proxy in front or inject an
// HTTPClient that signs requests.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

const (
	contentType   = "application/x-amz-json-1.1"
	targetPrefix  = "Logs_20140328."
	maxErrorBytes = 64 * 1024
)

// Config configures the client.
type Config struct {
	// Endpoint is the service base URL, e.g. https://logs.us-east-1.amazonaws.com.
	Endpoint string

	// Headers are added to every request.
	Headers map[string]string
}

// Endpoint returns the public endpoint of a region.
func Endpoint(region string) string {
	return "https://logs." + region + ".amazonaws.com"
}

// Client implements ports.LogService using HTTP.
type Client struct {
	client ports.HTTPClient
	cfg    Config
	logger ports.Logger
}

// NewClient creates a new log service client.
func NewClient(client ports.HTTPClient, cfg Config, logger ports.Logger) *Client {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Client{client: client, cfg: cfg, logger: logger}
}

type inputLogEvent struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

type putLogEventsInput struct {
	LogGroupName  string          `json:"logGroupName"`
	LogStreamName string          `json:"logStreamName"`
	LogEvents     []inputLogEvent `json:"logEvents"`
	SequenceToken string          `json:"sequenceToken,omitempty"`
}

type rejectedLogEventsInfo struct {
	TooNewLogEventStartIndex *int `json:"tooNewLogEventStartIndex"`
	TooOldLogEventEndIndex   *int `json:"tooOldLogEventEndIndex"`
	ExpiredLogEventEndIndex  *int `json:"expiredLogEventEndIndex"`
}

type putLogEventsOutput struct {
	NextSequenceToken     string                 `json:"nextSequenceToken"`
	RejectedLogEventsInfo *rejectedLogEventsInfo `json:"rejectedLogEventsInfo"`
}

type describeLogStreamsInput struct {
	LogGroupName        string `json:"logGroupName"`
	LogStreamNamePrefix string `json:"logStreamNamePrefix"`
	NextToken           string `json:"nextToken,omitempty"`
}

type describeLogStreamsOutput struct {
	LogStreams []struct {
		LogStreamName       string `json:"logStreamName"`
		UploadSequenceToken string `json:"uploadSequenceToken"`
	} `json:"logStreams"`
	NextToken string `json:"nextToken"`
}

// PutLogEvents implements ports.LogService.
func (c *Client) PutLogEvents(ctx context.Context, req ports.PutRequest) domain.Outcome {
	in := putLogEventsInput{
		LogGroupName:  req.Target.Group,
		LogStreamName: req.Target.Stream,
		LogEvents:     make([]inputLogEvent, len(req.Events)),
		SequenceToken: req.Token,
	}
	for i, e := range req.Events {
		in.LogEvents[i] = inputLogEvent{Timestamp: e.TimestampMs, Message: e.Message}
	}

	var out putLogEventsOutput
	if err := c.call(ctx, "PutLogEvents", in, &out); err != nil {
		return classify(err)
	}

	if info := out.RejectedLogEventsInfo; info != nil {
		fields := log.Target(req.Target.Group, req.Target.Stream)
		if info.TooNewLogEventStartIndex != nil {
			fields = append(fields, log.Int("too_new_start_index", *info.TooNewLogEventStartIndex))
		}
		if info.TooOldLogEventEndIndex != nil {
			fields = append(fields, log.Int("too_old_end_index", *info.TooOldLogEventEndIndex))
		}
		if info.ExpiredLogEventEndIndex != nil {
			fields = append(fields, log.Int("expired_end_index", *info.ExpiredLogEventEndIndex))
		}
		c.logger.Warn("log events rejected by destination", fields...)
	}
	return domain.Accepted(out.NextSequenceToken)
}

// CreateLogGroup implements ports.LogService.
func (c *Client) CreateLogGroup(ctx context.Context, group string) error {
	in := struct {
		LogGroupName string `json:"logGroupName"`
	}{group}
	return createError(c.call(ctx, "CreateLogGroup", in, nil))
}

// CreateLogStream implements ports.LogService.
func (c *Client) CreateLogStream(ctx context.Context, group, stream string) error {
	in := struct {
		LogGroupName  string `json:"logGroupName"`
		LogStreamName string `json:"logStreamName"`
	}{group, stream}
	return createError(c.call(ctx, "CreateLogStream", in, nil))
}

// DescribeStream implements ports.LogService.
func (c *Client) DescribeStream(ctx context.Context, target domain.Target) (string, bool, error) {
	in := describeLogStreamsInput{LogGroupName: target.Group, LogStreamNamePrefix: target.Stream}
	for {
		var out describeLogStreamsOutput
		if err := c.call(ctx, "DescribeLogStreams", in, &out); err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Type == "ResourceNotFoundException" {
				return "", false, nil
			}
			return "", false, markTransient(err)
		}
		for _, s := range out.LogStreams {
			if s.LogStreamName == target.Stream {
				return s.UploadSequenceToken, true, nil
			}
		}
		if out.NextToken == "" {
			return "", false, nil
		}
		in.NextToken = out.NextToken
	}
}

func (c *Client) call(ctx context.Context, op string, in, out interface{}) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(in); err != nil {
		return fmt.Errorf("marshal %s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/", &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Amz-Target", targetPrefix+op)
	req.Header.Set("Amz-Sdk-Invocation-Id", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return &networkError{err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return parseAPIError(resp.StatusCode, respBody)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return &networkError{err: fmt.Errorf("decode %s response: %w", op, err)}
	}
	return nil
}
