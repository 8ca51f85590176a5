// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/cadence/pkg/link"
)

// closingBridge sends payload as one binary message, then closes the
// WebSocket with the given close code
func closingBridge(t *testing.T, payload []byte, code int) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, payload)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
		// Wait for the client's close reply
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURLFor(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketConnection_CloseIsEOF(t *testing.T) {
	srv := closingBridge(t, []byte{0x01, 0x02, 0x03}, websocket.CloseNormalClosure)
	conn, err := OpenWebSocketConnection(wsURLFor(srv), "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, buf[:n])

	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWebSocketConnection_AbnormalCloseIsError(t *testing.T) {
	srv := closingBridge(t, nil, websocket.CloseInternalServerErr)
	conn, err := OpenWebSocketConnection(wsURLFor(srv), "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 16)
	_, _ = conn.Read(buf)
	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestWebSocketConnection_EndpointRunEndsCleanly(t *testing.T) {
	frame, err := link.BuildFrame(link.TypeTelemetry, 3, []byte{0, 0, 0, 0})
	require.NoError(t, err)
	srv := closingBridge(t, frame, websocket.CloseNormalClosure)
	conn, err := OpenWebSocketConnection(wsURLFor(srv), "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	frames := make(chan *link.Frame, 1)
	endpoint := link.NewEndpoint(conn, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = endpoint.Run(ctx, link.HandlerFunc(func(_ context.Context, f *link.Frame) {
		frames <- f
	}))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(3), (<-frames).Seq())
}
