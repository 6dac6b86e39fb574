// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/Thermoquad/mielestat/pkg/sniffer"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Connection provides a common interface for reading sample bytes from serial, WebSocket or a file
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketConnection wraps a WebSocket connection for byte-level reading
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool // Track if connection has failed/closed
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}

		// Samples only arrive as binary messages
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// FileConnection replays a recorded sample file
type FileConnection struct {
	file *os.File
}

func (f *FileConnection) Read(p []byte) (int, error) {
	return f.file.Read(p)
}

func (f *FileConnection) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("capture %s is read-only", f.file.Name())
}

func (f *FileConnection) Close() error {
	return f.file.Close()
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// OpenCaptureFile opens a recorded sample file
func OpenCaptureFile(path string) (Connection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	return &FileConnection{file: f}, nil
}

// GetPassword retrieves the WebSocket password from environment or prompts user
func GetPassword() (string, error) {
	return readPassword("MIELESTAT_PASSWORD", "Password: ")
}

// readPassword returns the value of envVar, or prompts for it without echo
func readPassword(envVar, prompt string) (string, error) {
	if pw := os.Getenv(envVar); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, prompt)

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens a WebSocket, capture or serial sample stream based on flags
func OpenConnection() (Connection, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if captureFile != "" {
		conn, err := OpenCaptureFile(captureFile)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Capture: %s", captureFile), nil
	}

	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("one of --gpio, --port, --url or --capture must be specified")
}

// Bus is an open bus source feeding a monitor
type Bus struct {
	Monitor *sniffer.Monitor
	Replay  *sniffer.Replay
	Pins    *sniffer.Pins // nil unless --gpio
	Info    string

	finite bool
	run    func(ctx context.Context) error
	close  func() error
}

// Run feeds the monitor until ctx is cancelled or the source ends.
// A capture file ends at EOF.
func (b *Bus) Run(ctx context.Context) error {
	return b.run(ctx)
}

// Finite reports whether the source ends by itself
func (b *Bus) Finite() bool {
	return b.finite
}

// Close releases the source
func (b *Bus) Close() error {
	return b.close()
}

// OpenBus opens the bus source selected by the flags
func OpenBus() (*Bus, error) {
	if useGPIO {
		return openGPIOBus()
	}

	conn, info, err := OpenConnection()
	if err != nil {
		return nil, err
	}

	_, finite := conn.(*FileConnection)
	replay := sniffer.NewReplay()
	return &Bus{
		Monitor: replay.Monitor(),
		Replay:  replay,
		Info:    info,
		finite:  finite,
		run: func(ctx context.Context) error {
			// Closing the connection unblocks a pending read
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			defer stop()
			return replay.Consume(ctx, conn)
		},
		close: conn.Close,
	}, nil
}

func openGPIOBus() (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	lookup := func(role, name string) (gpio.PinIO, error) {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("unknown GPIO pin %q for %s line", name, role)
		}
		return pin, nil
	}

	var pins sniffer.Pins
	var err error
	if pins.Data, err = lookup("data", pinData); err != nil {
		return nil, err
	}
	if pins.Clock, err = lookup("clock", pinClock); err != nil {
		return nil, err
	}
	if pins.SelectLeft, err = lookup("left select", pinLeft); err != nil {
		return nil, err
	}
	if pins.SelectRight, err = lookup("right select", pinRight); err != nil {
		return nil, err
	}

	replay := sniffer.NewReplay()
	return &Bus{
		Monitor: replay.Monitor(),
		Replay:  replay,
		Pins:    &pins,
		Info: fmt.Sprintf("GPIO: data=%s clock=%s left=%s right=%s",
			pinData, pinClock, pinLeft, pinRight),
		run: func(ctx context.Context) error {
			return sniffer.WatchGPIO(ctx, replay, pins)
		},
		close: func() error { return nil },
	}, nil
}
