package sqsx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/wsqyouth/sqsflow/internal/framework"
	"github.com/wsqyouth/sqsflow/pkg/errorutil"
)

// API is the slice of the SQS client the framework uses. Tests inject
// a fake; production wires *sqs.Client.
type API interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, opts ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, opts ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, opts ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// Options configures Dial. Endpoint plus static credentials point the
// client at an SQS-compatible local server.
type Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Client implements framework.QueueClient on SQS. Queue names are
// resolved to URLs lazily and cached; explicit URLs pass through.
type Client struct {
	api  API
	urls sync.Map // queue name -> URL
}

// NewClient wraps an SQS API.
func NewClient(api API) *Client {
	return &Client{api: api}
}

// Dial builds a Client from AWS configuration.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config failed: %w", err)
	}

	var clientOpts []func(*sqs.Options)
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}
	return NewClient(sqs.NewFromConfig(awsCfg, clientOpts...)), nil
}

// RegisterURL pins an explicit URL for a queue name, skipping lookup.
func (c *Client) RegisterURL(queue, url string) {
	c.urls.Store(queue, url)
}

func (c *Client) resolve(ctx context.Context, queue string) (string, error) {
	if v, ok := c.urls.Load(queue); ok {
		return v.(string), nil
	}
	// Explicit URLs pass through unchanged.
	if strings.Contains(queue, "://") {
		return queue, nil
	}
	out, err := c.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
	if err != nil {
		return "", classify("get-queue-url", queue, err)
	}
	url := aws.ToString(out.QueueUrl)
	c.urls.Store(queue, url)
	return url, nil
}

// Receive implements framework.QueueClient.
func (c *Client) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]*framework.Message, error) {
	url, err := c.resolve(ctx, queue)
	if err != nil {
		return nil, err
	}
	if maxMessages > framework.MaxReceiveBatch {
		maxMessages = framework.MaxReceiveBatch
	}
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(url),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       int32(wait / time.Second),
		AttributeNames:        []types.QueueAttributeName{types.QueueAttributeNameAll},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, classify("receive", queue, err)
	}

	msgs := make([]*framework.Message, 0, len(out.Messages))
	for _, raw := range out.Messages {
		msgs = append(msgs, fromSQS(queue, raw))
	}
	return msgs, nil
}

func fromSQS(queue string, raw types.Message) *framework.Message {
	attrs := make(map[string]string, len(raw.Attributes))
	for k, v := range raw.Attributes {
		attrs[k] = v
	}
	msgAttrs := make(map[string]string, len(raw.MessageAttributes))
	for k, v := range raw.MessageAttributes {
		msgAttrs[k] = aws.ToString(v.StringValue)
	}
	receiveCount, _ := strconv.Atoi(attrs["ApproximateReceiveCount"])
	if receiveCount == 0 {
		receiveCount = 1
	}
	return &framework.Message{
		ID:                aws.ToString(raw.MessageId),
		Body:              []byte(aws.ToString(raw.Body)),
		ReceiptHandle:     aws.ToString(raw.ReceiptHandle),
		Attributes:        attrs,
		MessageAttributes: msgAttrs,
		OrderingKey:       attrs["MessageGroupId"],
		ReceiveCount:      receiveCount,
		Queue:             queue,
	}
}

// Delete implements framework.QueueClient.
func (c *Client) Delete(ctx context.Context, queue string, receipt string) error {
	url, err := c.resolve(ctx, queue)
	if err != nil {
		return err
	}
	_, err = c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return classify("delete", queue, err)
	}
	return nil
}

// DeleteBatch implements framework.QueueClient.
func (c *Client) DeleteBatch(ctx context.Context, queue string, receipts []string) error {
	if err := framework.ValidateDeleteBatch(receipts); err != nil {
		return err
	}
	url, err := c.resolve(ctx, queue)
	if err != nil {
		return err
	}
	entries := make([]types.DeleteMessageBatchRequestEntry, len(receipts))
	for i, r := range receipts {
		entries[i] = types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: aws.String(r),
		}
	}
	out, err := c.api.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(url),
		Entries:  entries,
	})
	if err != nil {
		return classify("delete-batch", queue, err)
	}
	if len(out.Failed) > 0 {
		first := out.Failed[0]
		return &errorutil.TransientError{
			Op:  "delete-batch",
			Err: fmt.Errorf("%d entries failed, first: %s", len(out.Failed), aws.ToString(first.Message)),
		}
	}
	return nil
}

// ChangeVisibility implements framework.QueueClient.
func (c *Client) ChangeVisibility(ctx context.Context, queue string, receipt string, visibility time.Duration) error {
	url, err := c.resolve(ctx, queue)
	if err != nil {
		return err
	}
	visibility = framework.ClampVisibility(visibility)
	_, err = c.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: int32(visibility / time.Second),
	})
	if err != nil {
		return classify("change-visibility", queue, err)
	}
	return nil
}

// Send implements framework.QueueClient.
func (c *Client) Send(ctx context.Context, queue string, body []byte, opts framework.SendOptions) (string, error) {
	if err := framework.ValidateSend(body, opts); err != nil {
		return "", err
	}
	url, err := c.resolve(ctx, queue)
	if err != nil {
		return "", err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:     aws.String(url),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(opts.Delay / time.Second),
	}
	if opts.OrderingKey != "" {
		in.MessageGroupId = aws.String(opts.OrderingKey)
	}
	if len(opts.Attributes) > 0 {
		in.MessageAttributes = toMessageAttributes(opts.Attributes)
	}
	out, err := c.api.SendMessage(ctx, in)
	if err != nil {
		return "", classify("send", queue, err)
	}
	return aws.ToString(out.MessageId), nil
}

// SendBatch implements framework.QueueClient.
func (c *Client) SendBatch(ctx context.Context, queue string, entries []framework.SendEntry) error {
	if err := framework.ValidateSendBatch(entries); err != nil {
		return err
	}
	url, err := c.resolve(ctx, queue)
	if err != nil {
		return err
	}
	batch := make([]types.SendMessageBatchRequestEntry, len(entries))
	for i, e := range entries {
		entry := types.SendMessageBatchRequestEntry{
			Id:           aws.String(e.ID),
			MessageBody:  aws.String(string(e.Body)),
			DelaySeconds: int32(e.Delay / time.Second),
		}
		if e.OrderingKey != "" {
			entry.MessageGroupId = aws.String(e.OrderingKey)
		}
		batch[i] = entry
	}
	out, err := c.api.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(url),
		Entries:  batch,
	})
	if err != nil {
		return classify("send-batch", queue, err)
	}
	if len(out.Failed) > 0 {
		first := out.Failed[0]
		return &errorutil.TransientError{
			Op:  "send-batch",
			Err: fmt.Errorf("%d entries failed, first: %s", len(out.Failed), aws.ToString(first.Message)),
		}
	}
	return nil
}

func toMessageAttributes(attrs map[string]string) map[string]types.MessageAttributeValue {
	out := make(map[string]types.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		out[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return out
}

// classify sorts backend failures into the framework taxonomy: missing
// or forbidden queues are fatal for that queue, everything else is
// transient and feeds the pause cycle.
func classify(op, queue string, err error) error {
	var notFound *types.QueueDoesNotExist
	if errors.As(err, &notFound) {
		return &errorutil.QueueNotFoundError{Queue: queue, Err: err}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist",
			"AccessDenied", "AccessDeniedException", "InvalidAddress":
			return &errorutil.QueueNotFoundError{Queue: queue, Err: err}
		}
	}
	return &errorutil.TransientError{Op: op, Err: err}
}
