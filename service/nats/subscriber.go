package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Subscriber consumes mirror events from the stream with ephemeral
// consumers that only see messages published after they are created.
type Subscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSubscriber connects to NATS. name identifies the connection.
func NewSubscriber(natsURL, name string, logger *slog.Logger) (*Subscriber, error) {
	nc, err := Connect(natsURL, name)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("NATS subscriber initialized", "nats_url", natsURL)
	return &Subscriber{nc: nc, js: js, logger: logger}, nil
}

// Subscribe delivers the payload of every message on subject to fn until
// the returned stop func is called. Messages are acked after fn returns.
func (s *Subscriber) Subscribe(ctx context.Context, subject string, fn func(data []byte)) (func(), error) {
	cons, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		fn(msg.Data())
		if err := msg.Ack(); err != nil {
			s.logger.Debug("failed to ack message", "subject", msg.Subject(), "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming messages: %w", err)
	}
	return cc.Stop, nil
}

// StreamInfo returns the stream's state and configuration.
func (s *Subscriber) StreamInfo(ctx context.Context) (*jetstream.StreamInfo, error) {
	stream, err := s.js.Stream(ctx, StreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}
	return info, nil
}

// Close closes the NATS connection.
func (s *Subscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS subscriber closed")
	}
	return nil
}
