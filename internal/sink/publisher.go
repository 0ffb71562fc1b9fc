package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/nao1215/portscan/internal/model"
)

// Message attribute keys.
const (
	AttrHost     = "host"
	AttrScanType = "scan_type"
	AttrRunID    = "run_id"
)

var (
	// ErrTopicNotFound is returned when the configured topic does not exist.
	ErrTopicNotFound = errors.New("pubsub topic not found")

	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("publisher closed")
)

// Publisher sends finalized results to a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	sent   int
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New connects to project and opens topicID, which must already exist.
// clientOpts are passed to the Pub/Sub client, for example a gRPC connection
// to an emulator.
func New(ctx context.Context, project, topicID string, opts []Option, clientOpts ...option.ClientOption) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, project, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("checking topic %q: %w", topicID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, topicID)
	}

	p := &Publisher{
		client: client,
		topic:  topic,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish sends result and waits for the server to acknowledge it.
func (p *Publisher) Publish(ctx context.Context, result *model.ScanResult) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg, err := NewMessage(result)
	if err != nil {
		return err
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish %s: %w", result.Host, err)
	}

	p.mu.Lock()
	p.sent++
	p.mu.Unlock()
	p.logger.Debug("published result", "host", result.Host.String(), "message_id", id)
	return nil
}

// Sent returns the number of acknowledged messages.
func (p *Publisher) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.topic.Stop()
	return p.client.Close()
}

// NewMessage encodes result as a Pub/Sub message.
func NewMessage(result *model.ScanResult) (*pubsub.Message, error) {
	if result == nil {
		return nil, errors.New("nil scan result")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrHost:     result.Host.String(),
			AttrScanType: result.ScanType.String(),
			AttrRunID:    result.RunID,
		},
	}, nil
}
