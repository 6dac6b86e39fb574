// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/mielestat/pkg/mc14489"
	"github.com/Thermoquad/mielestat/pkg/sniffer"
	"github.com/Thermoquad/mielestat/pkg/washer"
)

// ============================================================
// Test Helpers
// ============================================================

type message struct {
	topic   string
	payload string
}

type recordingSink struct {
	messages []message
	fail     bool
}

func (s *recordingSink) Publish(ctx context.Context, topic string, payload []byte) error {
	if s.fail {
		return errors.New("sink offline")
	}
	s.messages = append(s.messages, message{topic, string(payload)})
	return nil
}

func (s *recordingSink) topic(name string) []string {
	var values []string
	for _, m := range s.messages {
		if m.topic == name {
			values = append(values, m.payload)
		}
	}
	return values
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// transaction encodes one bus transaction as capture samples, starting and
// ending with both chips deselected
func transaction(selectBit byte, value uint32, n int) []byte {
	idle := byte(sniffer.SampleSelectLeft | sniffer.SampleSelectRight)
	sel := idle &^ selectBit
	samples := []byte{idle, sel}
	for i := n - 1; i >= 0; i-- {
		var data byte
		if value>>uint(i)&1 == 1 {
			data = sniffer.SampleData
		}
		samples = append(samples, sel|data, sel|data|sniffer.SampleClock)
	}
	return append(samples, sel, idle)
}

func writeRegisters(r *sniffer.Replay, selectBit byte, regs mc14489.Registers) {
	r.Write(transaction(selectBit, uint32(regs.Control), mc14489.ControlBits))
	r.Write(transaction(selectBit, regs.Display, mc14489.DisplayBits))
}

// ============================================================
// Topic Tests
// ============================================================

func TestTopic_Deduplicates(t *testing.T) {
	sink := &recordingSink{}
	topic := NewTopic("time", sink)
	ctx := context.Background()

	for _, v := range []string{"45 min", "45 min", "44 min", "44 min", "45 min"} {
		if _, err := topic.UpdateString(ctx, v); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	got := sink.topic("time")
	expected := []string{"45 min", "44 min", "45 min"}
	if strings.Join(got, "|") != strings.Join(expected, "|") {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

func TestTopic_FirstValuePublishedEvenIfEmpty(t *testing.T) {
	sink := &recordingSink{}
	topic := NewTopic("status", sink)

	changed, err := topic.UpdateString(context.Background(), "")
	if err != nil || !changed {
		t.Fatalf("expected first publish, changed=%v err=%v", changed, err)
	}
	if len(sink.messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(sink.messages))
	}
}

func TestTopic_RetriesAfterFailure(t *testing.T) {
	sink := &recordingSink{fail: true}
	topic := NewTopic("status", sink)
	ctx := context.Background()

	if _, err := topic.UpdateString(ctx, "Washing"); err == nil {
		t.Fatal("expected sink error")
	}
	sink.fail = false
	changed, err := topic.UpdateString(ctx, "Washing")
	if err != nil || !changed {
		t.Fatalf("expected retry to publish, changed=%v err=%v", changed, err)
	}
	if string(topic.Last()) != "Washing" {
		t.Errorf("last value %q", topic.Last())
	}
}

// ============================================================
// Sink Tests
// ============================================================

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	ctx := context.Background()

	sink.Publish(ctx, "status", []byte("Washing, Ø 1400"))
	sink.Publish(ctx, "registers", []byte{0x82, 0xFF})

	out := buf.String()
	if !strings.Contains(out, `status: "Washing, Ø 1400"`) {
		t.Errorf("missing status line:\n%s", out)
	}
	if !strings.Contains(out, "registers: 82FF") {
		t.Errorf("missing hex line:\n%s", out)
	}
}

func TestMultiSink(t *testing.T) {
	good := &recordingSink{}
	bad := &recordingSink{fail: true}
	sink := MultiSink{bad, good}

	err := sink.Publish(context.Background(), "time", []byte("1h 30m"))
	if err == nil {
		t.Error("expected joined error")
	}
	if len(good.messages) != 1 {
		t.Error("healthy sink should still receive the value")
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	if err := sink.Publish(context.Background(), "time", []byte("45 min")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !strings.Contains(buf.String(), "topic=time") || !strings.Contains(buf.String(), `value="45 min"`) {
		t.Errorf("unexpected log output: %s", buf.String())
	}
}

// ============================================================
// Publisher Tests
// ============================================================

func TestPublisher_Step(t *testing.T) {
	r := sniffer.NewReplay()
	sink := &recordingSink{}
	p := NewPublisher(r.Monitor(), sink, WithLogger(quietLogger()))
	ctx := context.Background()

	writeRegisters(r, sniffer.SampleSelectLeft, mc14489.Registers{Control: 0x01, Display: 0x031})
	writeRegisters(r, sniffer.SampleSelectRight, mc14489.Registers{Control: 0x01, Display: 0x042100})

	res := p.Step(ctx)
	if res.Time != "1h 30m" || res.Status != "Washing, Ø 1400, Pre-wash" {
		t.Fatalf("unexpected result %q / %q", res.Time, res.Status)
	}
	if !res.Changed {
		t.Error("first step should publish")
	}

	// Unchanged registers publish nothing
	res = p.Step(ctx)
	if res.Changed || len(sink.messages) != 2 {
		t.Errorf("expected no republish, got %d messages", len(sink.messages))
	}

	// Door opens: display blanked
	r.Write(transaction(sniffer.SampleSelectLeft, 0x70, mc14489.ControlBits))
	res = p.Step(ctx)
	if res.Time != " " || !strings.HasPrefix(res.Status, "Door open") {
		t.Errorf("unexpected door open result %q / %q", res.Time, res.Status)
	}
	if got := sink.topic(TopicTime); len(got) != 2 || got[1] != " " {
		t.Errorf("time topic: %q", got)
	}
}

func TestPublisher_StepUsesOneSnapshot(t *testing.T) {
	r := sniffer.NewReplay()
	p := NewPublisher(r.Monitor(), &recordingSink{}, WithLogger(quietLogger()))
	ctx := context.Background()

	writeRegisters(r, sniffer.SampleSelectLeft, mc14489.Registers{Control: 0x43, Display: 0x540})
	writeRegisters(r, sniffer.SampleSelectRight, mc14489.Registers{Control: 0x01, Display: 0x042100})
	res := p.Step(ctx)

	left, right := res.Snapshot.Left.Registers(), res.Snapshot.Right.Registers()
	if res.Time != washer.FormatTime(left) {
		t.Errorf("time %q does not match snapshot %s", res.Time, left)
	}
	if res.Status != washer.FormatState(left, right) {
		t.Errorf("status %q does not match snapshot %s / %s", res.Status, left, right)
	}
	if res.State != washer.DecodeState(left) || res.State != washer.Normal {
		t.Errorf("state %v does not match snapshot %s", res.State, left)
	}
}

func TestPublisher_GlitchDoesNotRepublish(t *testing.T) {
	r := sniffer.NewReplay()
	sink := &recordingSink{}
	p := NewPublisher(r.Monitor(), sink, WithLogger(quietLogger()))
	ctx := context.Background()

	writeRegisters(r, sniffer.SampleSelectLeft, mc14489.Registers{Control: 0x43, Display: 0x540})
	p.Step(ctx)

	r.Write(transaction(sniffer.SampleSelectLeft, 0xFFFFF, 20))
	res := p.Step(ctx)
	if res.Changed || res.Time != "45 min" {
		t.Errorf("glitch changed output: %q changed=%v", res.Time, res.Changed)
	}
}

func TestPublisher_Registers(t *testing.T) {
	r := sniffer.NewReplay()
	sink := &recordingSink{}
	p := NewPublisher(r.Monitor(), sink, WithRegisters(), WithLogger(quietLogger()))
	ctx := context.Background()

	writeRegisters(r, sniffer.SampleSelectRight, mc14489.Registers{Control: 0x01, Display: 0x000004})
	p.Step(ctx)
	p.Step(ctx)

	regs := sink.topic(TopicRegisters)
	if len(regs) != 1 {
		t.Fatalf("expected 1 registers message, got %d", len(regs))
	}
	_, right, err := sniffer.DecodeRegisters([]byte(regs[0]))
	if err != nil {
		t.Fatalf("DecodeRegisters: %v", err)
	}
	if right.Display != 0x000004 {
		t.Errorf("right display 0x%06X", right.Display)
	}
}

func TestPublisher_Run(t *testing.T) {
	r := sniffer.NewReplay()
	sink := &recordingSink{}
	p := NewPublisher(r.Monitor(), sink, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	steps := 0
	err := p.Run(ctx, time.Millisecond, func(Result) {
		steps++
		if steps == 3 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if steps != 3 {
		t.Errorf("expected 3 steps, got %d", steps)
	}
}

// ============================================================
// MQTT Tests
// ============================================================

// fakeBroker accepts one client, acknowledges its CONNECT and hands
// everything it receives afterwards to received
func fakeBroker(t *testing.T, received chan<- []byte) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 512)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		// CONNACK, session not present, accepted
		if _, err := conn.Write([]byte{0x20, 0x02, 0x00, 0x00}); err != nil {
			return
		}
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				received <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				return
			}
		}
	}()

	return ln.Addr().String()
}

func TestMQTTSink_Publish(t *testing.T) {
	received := make(chan []byte, 8)
	addr := fakeBroker(t, received)

	ctx := context.Background()
	sink, err := DialMQTT(ctx, MQTTConfig{
		Addr:     addr,
		ClientID: "mielestat-test",
		Prefix:   "washer",
		Timeout:  2 * time.Second,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("DialMQTT: %v", err)
	}
	defer sink.Close()

	if err := sink.Publish(ctx, TopicStatus, []byte("Rinsing")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case data := <-received:
		if !bytes.Contains(data, []byte("washer/status")) || !bytes.Contains(data, []byte("Rinsing")) {
			t.Errorf("unexpected publish packet % X", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broker received nothing")
	}
}

func TestMQTTSink_PublishOnClosedConn(t *testing.T) {
	received := make(chan []byte, 8)
	addr := fakeBroker(t, received)

	ctx := context.Background()
	sink, err := DialMQTT(ctx, MQTTConfig{Addr: addr, Timeout: 2 * time.Second, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("DialMQTT: %v", err)
	}
	defer sink.Close()

	sink.conn.Close()

	err = sink.Publish(ctx, TopicTime, []byte("45 min"))
	if !errors.Is(err, net.ErrClosed) {
		t.Fatalf("expected closed connection error, got %v", err)
	}
	if !strings.Contains(err.Error(), "write deadline") {
		t.Errorf("error should name the deadline: %v", err)
	}
	if sink.client != nil || sink.conn != nil {
		t.Error("failed publish should drop the connection")
	}
}

func TestMQTTSink_TopicName(t *testing.T) {
	s := &MQTTSink{cfg: MQTTConfig{Prefix: "washer"}}
	if got := s.TopicName("time"); got != "washer/time" {
		t.Errorf("expected washer/time, got %s", got)
	}
	s.cfg.Prefix = ""
	if got := s.TopicName("time"); got != "time" {
		t.Errorf("expected time, got %s", got)
	}
}

func TestDialMQTT_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = DialMQTT(context.Background(), MQTTConfig{Addr: addr, Timeout: time.Second, Logger: quietLogger()})
	if err == nil {
		t.Error("expected dial error")
	}
}
