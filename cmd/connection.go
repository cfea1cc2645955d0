// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/ld2402ctl/internal/config"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

const (
	// serialReadTimeout bounds each blocking read so the transport pump can
	// notice shutdown.
	serialReadTimeout = 100 * time.Millisecond

	bridgeHandshakeTimeout = 10 * time.Second
	bridgeDialTimeout      = 15 * time.Second
)

// Connection is a byte stream to the sensor UART, either local or bridged.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// errBridgeClosed is returned by reads after the bridge socket has failed.
var errBridgeClosed = errors.New("uart bridge closed")

// serialLink is the sensor UART on a local serial port.
type serialLink struct {
	serial.Port
}

// openSerial opens the sensor UART. The LD2402 runs 8N1, 115200 baud by
// default.
func openSerial(c config.SerialConfig) (*serialLink, error) {
	port, err := serial.Open(c.Port, &serial.Mode{
		BaudRate: c.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Port, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", c.Port, err)
	}
	return &serialLink{Port: port}, nil
}

// bridgeLink carries UART bytes over a WebSocket bridge (for example an
// ESP32 exposing the sensor's serial port). Binary messages hold raw UART
// bytes in both directions; anything else the bridge sends is ignored.
type bridgeLink struct {
	ws      *websocket.Conn
	pending []byte
	failed  bool
}

func (b *bridgeLink) Read(p []byte) (int, error) {
	if b.failed {
		return 0, errBridgeClosed
	}
	for len(b.pending) == 0 {
		kind, msg, err := b.ws.ReadMessage()
		if err != nil {
			b.failed = true
			return 0, err
		}
		if kind == websocket.BinaryMessage {
			b.pending = msg
		}
	}
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

func (b *bridgeLink) Write(p []byte) (int, error) {
	if err := b.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *bridgeLink) Close() error {
	return b.ws.Close()
}

// dialBridge connects to a UART bridge. Credentials, when given, are sent as
// HTTP Basic auth on the upgrade request.
func dialBridge(ctx context.Context, c config.WebSocketConfig, password string) (*bridgeLink, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("bridge URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("bridge URL scheme %q not supported (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: bridgeHandshakeTimeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: c.NoSSLVerify}
	}

	req := &http.Request{Header: http.Header{}}
	if c.Username != "" && password != "" {
		req.SetBasicAuth(c.Username, password)
	}

	ctx, cancel := context.WithTimeout(ctx, bridgeDialTimeout)
	defer cancel()

	ws, resp, err := dialer.DialContext(ctx, c.URL, req.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge %s refused upgrade (HTTP %d): %w", u.Host, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bridge %s: %w", u.Host, err)
	}
	return &bridgeLink{ws: ws}, nil
}

// bridgePassword takes the bridge password from LD2402_PASSWORD, or asks
// for it on the terminal. Piped input is read as a single line.
func bridgePassword(username string) (string, error) {
	if pw := os.Getenv("LD2402_PASSWORD"); pw != "" {
		return pw, nil
	}

	fd := int(os.Stdin.Fd())
	fmt.Fprintf(os.Stderr, "Bridge password for %s: ", username)
	defer fmt.Fprintln(os.Stderr)

	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// OpenConnection opens the sensor link named by cfg and describes it. A
// bridge URL takes precedence over a serial port.
func OpenConnection(cfg *config.Config) (Connection, string, error) {
	switch {
	case cfg.WebSocket.URL != "":
		var password string
		if cfg.WebSocket.Username != "" {
			var err error
			if password, err = bridgePassword(cfg.WebSocket.Username); err != nil {
				return nil, "", err
			}
		}
		link, err := dialBridge(context.Background(), cfg.WebSocket, password)
		if err != nil {
			return nil, "", err
		}
		return link, "bridge " + cfg.WebSocket.URL, nil

	case cfg.Serial.Port != "":
		link, err := openSerial(cfg.Serial)
		if err != nil {
			return nil, "", err
		}
		return link, fmt.Sprintf("serial %s @ %d baud", cfg.Serial.Port, cfg.Serial.Baud), nil
	}

	return nil, "", errors.New("no sensor connection: set --port or --url (or serial.port / websocket.url in the config file)")
}
