package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"codejudge/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerID        = "x-message-id"
	headerTimestamp = "x-message-ts"

	commitTimeout = 5 * time.Second
	fetchBackoff  = 100 * time.Millisecond
)

// KafkaConfig configures the Kafka transport. Zero values take defaults.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	orDuration := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	orInt := func(n *int, def int) {
		if *n <= 0 {
			*n = def
		}
	}
	// One submission per batch: results must not wait for a batch to fill.
	orInt(&c.BatchSize, 1)
	orInt(&c.MinBytes, 1)
	orInt(&c.MaxBytes, 10<<20)
	orDuration(&c.BatchTimeout, 10*time.Millisecond)
	orDuration(&c.MaxWait, time.Second)
	orDuration(&c.DialTimeout, 10*time.Second)
	orDuration(&c.ReadTimeout, 10*time.Second)
	orDuration(&c.WriteTimeout, 10*time.Second)
	if c.RequiredAcks == kafka.RequireNone {
		c.RequiredAcks = kafka.RequireOne
	}
	return c
}

var (
	_ Producer = (*KafkaQueue)(nil)
	_ Consumer = (*KafkaQueue)(nil)
)

// KafkaQueue is a Producer and Consumer backed by kafka-go.
type KafkaQueue struct {
	cfg    KafkaConfig
	dialer *kafka.Dialer
	writer *kafka.Writer

	closeOnce sync.Once
	closeErr  error
}

// NewKafkaQueue creates the queue. No connection is made until first use.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	cfg = cfg.withDefaults()
	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	return &KafkaQueue{
		cfg:    cfg,
		dialer: dialer,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: cfg.RequiredAcks,
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			Compression:  cfg.Compression,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			Transport: &kafka.Transport{
				ClientID: cfg.ClientID,
				Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
					return dialer.DialContext(ctx, network, address)
				},
			},
		},
	}, nil
}

// Publish writes message to topic keyed by its id.
func (q *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	return q.writer.WriteMessages(ctx, toKafkaMessage(topic, message))
}

// Ping succeeds once any configured broker accepts a connection.
func (q *KafkaQueue) Ping(ctx context.Context) error {
	var errs []error
	for _, broker := range q.cfg.Brokers {
		conn, err := q.dialer.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, fmt.Errorf("%s: %w", broker, err))
	}
	return errors.Join(errs...)
}

// Consume reads topic as a member of the options' consumer group and runs
// handler on every message.
func (q *KafkaQueue) Consume(ctx context.Context, topic string, handler HandlerFunc, opts ConsumeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	opts = opts.withDefaults(topic)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     q.cfg.Brokers,
		Topic:       topic,
		GroupID:     opts.Group,
		Dialer:      q.dialer,
		MinBytes:    q.cfg.MinBytes,
		MaxBytes:    q.cfg.MaxBytes,
		MaxWait:     q.cfg.MaxWait,
		StartOffset: kafka.LastOffset,
	})

	msgs := make(chan kafka.Message, opts.Concurrency*opts.Prefetch)
	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				handleMessage(ctx, reader, handler, msg)
			}
		}()
	}

	fetch(ctx, reader, msgs)
	close(msgs)
	wg.Wait()
	return reader.Close()
}

// fetch feeds msgs until ctx ends. Broker errors are logged and retried.
func fetch(ctx context.Context, reader *kafka.Reader, msgs chan<- kafka.Message) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "kafka fetch failed", zap.String("topic", reader.Config().Topic), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchBackoff):
			}
			continue
		}
		select {
		case msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Close flushes and closes the producer.
func (q *KafkaQueue) Close() error {
	q.closeOnce.Do(func() { q.closeErr = q.writer.Close() })
	return q.closeErr
}

// committer is the part of kafka.Reader a handler run needs.
type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// handleMessage runs handler once and commits msg whatever the outcome, so a
// message is never judged twice.
func handleMessage(ctx context.Context, c committer, handler HandlerFunc, msg kafka.Message) {
	m := fromKafkaMessage(msg)
	fields := []zap.Field{zap.String("topic", msg.Topic), zap.String("message_id", m.ID)}
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "message handler panicked", append(fields, zap.Any("panic", r))...)
			}
		}()
		if err := handler(ctx, m); err != nil {
			logger.Warn(ctx, "message handler failed", append(fields, zap.Error(err))...)
		}
	}()
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := c.CommitMessages(commitCtx, msg); err != nil {
		logger.Warn(ctx, "commit message failed", append(fields, zap.Int64("offset", msg.Offset), zap.Error(err))...)
	}
}

func toKafkaMessage(topic string, m *Message) kafka.Message {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	headers := make([]kafka.Header, 0, len(m.Headers)+2)
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if m.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(m.ID)})
	}
	headers = append(headers, kafka.Header{Key: headerTimestamp, Value: []byte(ts.Format(time.RFC3339Nano))})
	return kafka.Message{Topic: topic, Key: []byte(m.ID), Value: m.Body, Headers: headers, Time: ts}
}

func fromKafkaMessage(msg kafka.Message) *Message {
	m := &Message{ID: string(msg.Key), Body: msg.Value, Headers: map[string]string{}, Timestamp: msg.Time}
	for _, h := range msg.Headers {
		switch h.Key {
		case headerID:
			m.ID = string(h.Value)
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				m.Timestamp = ts
			}
		default:
			m.Headers[h.Key] = string(h.Value)
		}
	}
	return m
}
