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

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/cadence/pkg/config"
	"github.com/Thermoquad/cadence/pkg/device"
	"github.com/Thermoquad/cadence/pkg/modbus"
)

// linkReadTimeout bounds each serial read so read loops can observe
// cancellation
const linkReadTimeout = 100 * time.Millisecond

// Connection provides a common interface for reading/writing bytes from serial or WebSocket
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
	err       error // set once the connection has failed or closed
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
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
			// A close handshake from the peer is the end of the stream
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.err = io.EOF
			} else {
				w.err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}
			return 0, w.err
		}

		// Link frames travel as binary messages only
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

// OpenSerialConnection opens the link UART
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
	if err := port.SetReadTimeout(linkReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", portName, err)
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

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("CADENCE_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

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

// OpenLink opens the inter-controller link described by c
func OpenLink(c config.LinkConfig) (Connection, string, error) {
	if c.URL != "" {
		password := ""
		if c.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(c.URL, c.Username, password, c.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", c.URL), nil
	}

	if c.Port != "" {
		conn, err := OpenSerialConnection(c.Port, c.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", c.Port, c.Baud), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified for the link")
}

// BusConnection is a register source that must be closed after use
type BusConnection interface {
	device.RegisterSource
	io.Closer
}

type rtuBus struct {
	*modbus.Client
	port *modbus.SerialPort
}

func (b *rtuBus) Close() error {
	return b.port.Close()
}

// OpenBus opens the motor controller bus described by c. Gateway URLs use
// the networked client; anything else is a local UART.
func OpenBus(c config.BusConfig, log zerolog.Logger) (BusConnection, string, error) {
	if c.Port == "" {
		return nil, "", fmt.Errorf("--bus must be specified")
	}
	timeout := time.Duration(c.TimeoutMs) * time.Millisecond

	if modbus.IsRemoteURL(c.Port) {
		client, err := modbus.NewRemoteClient(c.Port, c.Baud, timeout, log)
		if err != nil {
			return nil, "", err
		}
		return client, fmt.Sprintf("Bus: %s slave %d", c.Port, c.Slave), nil
	}

	port, err := modbus.OpenSerial(modbus.SerialConfig{
		Device:   c.Port,
		Speed:    c.Baud,
		Parity:   c.Parity,
		StopBits: c.StopBits,
	})
	if err != nil {
		return nil, "", err
	}
	client := modbus.NewClient(port, modbus.WithTimeout(timeout), modbus.WithLogger(log))
	return &rtuBus{Client: client, port: port},
		fmt.Sprintf("Bus: %s @ %d baud %s slave %d", c.Port, c.Baud, c.Parity, c.Slave), nil
}
