// Package mq carries submissions and results over a message broker, the
// judge's optional second transport next to HTTP.
package mq

import (
	"context"
	"time"
)

// Producer publishes messages.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer delivers the messages of a topic to a handler.
type Consumer interface {
	// Consume blocks until ctx ends or the broker fails for good. Handlers
	// still running when ctx ends are waited for.
	Consume(ctx context.Context, topic string, handler HandlerFunc, opts ConsumeOptions) error
}

// Message is one record. ID doubles as the partition key so that a
// submission and its result share a partition.
type Message struct {
	ID        string            `json:"id"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`
}

// HandlerFunc handles one message. A returned error is logged; the message
// is committed either way.
type HandlerFunc func(ctx context.Context, message *Message) error

// ConsumeOptions tunes one Consume call.
type ConsumeOptions struct {
	// Group defaults to "codejudge-<topic>".
	Group string
	// Concurrency is the number of handlers running at once. Default 1.
	Concurrency int
	// Prefetch is the number of fetched messages buffered per handler. Default 1.
	Prefetch int
}

func (o ConsumeOptions) withDefaults(topic string) ConsumeOptions {
	if o.Group == "" {
		o.Group = "codejudge-" + topic
	}
	o.Concurrency = max(o.Concurrency, 1)
	o.Prefetch = max(o.Prefetch, 1)
	return o
}

// NewMessage creates a message stamped with the current time.
func NewMessage(id string, body []byte) *Message {
	return &Message{ID: id, Body: body, Headers: map[string]string{}, Timestamp: time.Now()}
}

func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	m.Headers[key] = value
}

func (m *Message) GetHeader(key string) (string, bool) {
	v, ok := m.Headers[key]
	return v, ok
}
