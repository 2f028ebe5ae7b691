/*
Copyright (C) 2026  raftlog contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package adminui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launix-de/raftlog/internal/asyncwriter"
	"github.com/launix-de/raftlog/internal/dedup"
	"github.com/launix-de/raftlog/internal/engine"
	"github.com/launix-de/raftlog/internal/envelope"
	"github.com/launix-de/raftlog/internal/filestore"
	"github.com/launix-de/raftlog/internal/singlestore"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	store, err := singlestore.Open(dir, filestore.DefaultConfig(), dedup.DefaultPolicy(), nil)
	require.NoError(t, err)
	writer := asyncwriter.New(store, 64, 64)
	container := engine.NewRWLockContainer(engine.NewState())
	eng := engine.New(container, store, writer, engine.Config{})
	t.Cleanup(func() {
		writer.Close()
		store.Close()
	})
	return eng
}

func TestHub_Publish_FansOutToConnectedClients(t *testing.T) {
	h := New(newTestEngine(t), nil)
	c := &client{send: make(chan []byte, 1)}
	h.clients[c] = struct{}{}

	h.Publish("widget", &envelope.Envelope{EventType: "widget.created", EventID: "1"})

	select {
	case b := <-c.send:
		var env envelope.Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		assert.Equal(t, "widget.created", env.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected the published envelope on the client's send channel")
	}
}

func TestHub_Publish_DropsSlowClientWithoutBlocking(t *testing.T) {
	h := New(newTestEngine(t), nil)
	c := &client{send: make(chan []byte, 1)}
	c.send <- []byte("already full")
	h.clients[c] = struct{}{}

	done := make(chan struct{})
	go func() {
		h.Publish("widget", &envelope.Envelope{EventType: "widget.created", EventID: "1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish must not block on a client whose send channel is full")
	}
}

func TestHub_HandleTail_StreamsPublishedEnvelopes(t *testing.T) {
	h := New(newTestEngine(t), nil)
	ts := httptest.NewServer(http.HandlerFunc(h.HandleTail))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.clients) == 1
	}, time.Second, time.Millisecond)

	h.Publish("widget", &envelope.Envelope{EventType: "widget.created", EventID: "1"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var env envelope.Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, "widget.created", env.EventType)
}

func TestHub_HandleTail_RemovesClientOnDisconnect(t *testing.T) {
	h := New(newTestEngine(t), nil)
	ts := httptest.NewServer(http.HandlerFunc(h.HandleTail))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.clients) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.clients) == 0
	}, time.Second, time.Millisecond, "expected the hub to forget a disconnected client")
}

func TestHub_HandleCorruption_ReportsEngineFlag(t *testing.T) {
	h := New(newTestEngine(t), nil)
	ts := httptest.NewServer(http.HandlerFunc(h.HandleCorruption))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["corruption_detected"])
}
