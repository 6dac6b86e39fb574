// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"bytes"
	"context"
)

// Topic is a named output that remembers the last value it published
type Topic struct {
	name      string
	sink      Sink
	last      []byte
	published bool
}

// NewTopic creates a topic publishing to sink
func NewTopic(name string, sink Sink) *Topic {
	return &Topic{name: name, sink: sink}
}

// Name returns the topic name
func (t *Topic) Name() string {
	return t.name
}

// Last returns the last value published successfully
func (t *Topic) Last() []byte {
	return t.last
}

// Update publishes value unless it equals the last published value.
// It reports whether a publish happened. A failed publish is retried on
// the next Update.
func (t *Topic) Update(ctx context.Context, value []byte) (bool, error) {
	if t.published && bytes.Equal(t.last, value) {
		return false, nil
	}
	if err := t.sink.Publish(ctx, t.name, value); err != nil {
		return false, err
	}
	t.last = append(t.last[:0], value...)
	t.published = true
	return true, nil
}

// UpdateString is Update for text values
func (t *Topic) UpdateString(ctx context.Context, value string) (bool, error) {
	return t.Update(ctx, []byte(value))
}
