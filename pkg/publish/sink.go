// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish delivers the decoded appliance state to its consumers.
// Each output is a Topic that only forwards a value to its Sink when it
// differs from the last value published.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"unicode/utf8"
)

// Sink accepts published values
type Sink interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// WriterSink writes one "topic: value" line per publish.
// Binary payloads are written as hex.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Publish writes the line
func (s *WriterSink) Publish(ctx context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if utf8.Valid(payload) {
		_, err = fmt.Fprintf(s.w, "%s: %q\n", topic, payload)
	} else {
		_, err = fmt.Fprintf(s.w, "%s: %X\n", topic, payload)
	}
	return err
}

// LogSink logs each publish at info level
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to logger
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs the value
func (s *LogSink) Publish(ctx context.Context, topic string, payload []byte) error {
	value := slog.String("value", string(payload))
	if !utf8.Valid(payload) {
		value = slog.String("value", fmt.Sprintf("%X", payload))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "publish", slog.String("topic", topic), value)
	return nil
}

// MultiSink publishes to every sink, continuing past failures
type MultiSink []Sink

// Publish publishes to all sinks and joins their errors
func (m MultiSink) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
