// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
)

// ErrNotConnected is returned when the broker connection could not be (re)established
var ErrNotConnected = errors.New("mqtt: not connected")

// MQTTConfig configures the broker connection
type MQTTConfig struct {
	Addr     string        // host:port
	ClientID string
	Prefix   string        // topic prefix, e.g. "mielestat"
	Username string        // optional
	Password string        // optional, requires Username
	Timeout  time.Duration // connect and write timeout
	Logger   *slog.Logger
}

// MQTTSink publishes retained QoS0 messages to an MQTT broker.
// A lost connection is re-established on the next publish.
type MQTTSink struct {
	cfg MQTTConfig

	mu       sync.Mutex
	conn     net.Conn
	client   *mqtt.Client
	flags    mqtt.PacketFlags
	packetID uint16
}

// DialMQTT connects to the broker
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, true)
	if err != nil {
		return nil, fmt.Errorf("mqtt publish flags: %w", err)
	}

	s := &MQTTSink{cfg: cfg, flags: flags}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// TopicName returns the broker topic for an output
func (s *MQTTSink) TopicName(topic string) string {
	if s.cfg.Prefix == "" {
		return topic
	}
	return s.cfg.Prefix + "/" + topic
}

func (s *MQTTSink) connect(ctx context.Context) error {
	logger := s.cfg.Logger

	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mqtt dial %s: %w", s.cfg.Addr, err)
	}
	logger.Info("tcp:connected", slog.String("addr", s.cfg.Addr))

	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 1024)},
		OnPub: func(pubHead mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
			logger.Debug("received message", slog.String("topic", string(varPub.TopicName)))
			return nil
		},
	})

	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(s.cfg.ClientID))
	// Publishes only happen on change, so keep-alive would need pings
	varconn.KeepAlive = 0
	if s.cfg.Username != "" {
		varconn.Username = []byte(s.cfg.Username)
		if s.cfg.Password != "" {
			varconn.Password = []byte(s.cfg.Password)
		}
	}

	if err := conn.SetDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		conn.Close()
		return fmt.Errorf("mqtt set connect deadline: %w", err)
	}
	if err := client.StartConnect(conn, &varconn); err != nil {
		conn.Close()
		return fmt.Errorf("mqtt start connect: %w", err)
	}
	for retries := 5; retries > 0 && !client.IsConnected(); retries-- {
		if err := client.HandleNext(); err != nil {
			logger.Error("mqtt:handle-next-failed", slog.String("err", err.Error()))
			break
		}
	}
	if !client.IsConnected() {
		conn.Close()
		if err := client.Err(); err != nil {
			return fmt.Errorf("mqtt connect to %s: %w", s.cfg.Addr, err)
		}
		return fmt.Errorf("mqtt connect to %s: %w", s.cfg.Addr, ErrNotConnected)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return fmt.Errorf("mqtt clear connect deadline: %w", err)
	}
	logger.Info("mqtt:connected", slog.String("client_id", s.cfg.ClientID))

	s.conn = conn
	s.client = client
	return nil
}

// Publish sends payload as a retained message under the topic prefix
func (s *MQTTSink) Publish(ctx context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || !s.client.IsConnected() {
		s.closeConn()
		if err := s.connect(ctx); err != nil {
			s.cfg.Logger.Error("mqtt:reconnect-failed", slog.String("err", err.Error()))
			return ErrNotConnected
		}
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		s.closeConn()
		return fmt.Errorf("mqtt set write deadline: %w", err)
	}

	s.packetID++
	vars := mqtt.VariablesPublish{
		TopicName:        []byte(s.TopicName(topic)),
		PacketIdentifier: s.packetID,
	}
	if err := s.client.PublishPayload(s.flags, vars, payload); err != nil {
		s.closeConn()
		return fmt.Errorf("mqtt publish %s: %w", vars.TopicName, err)
	}
	return nil
}

func (s *MQTTSink) closeConn() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.client = nil
}

// Close closes the broker connection
func (s *MQTTSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeConn()
	return nil
}
