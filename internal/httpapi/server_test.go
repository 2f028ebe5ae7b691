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
package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launix-de/raftlog/internal/asyncwriter"
	"github.com/launix-de/raftlog/internal/dedup"
	"github.com/launix-de/raftlog/internal/engine"
	"github.com/launix-de/raftlog/internal/filestore"
	"github.com/launix-de/raftlog/internal/leadership"
	"github.com/launix-de/raftlog/internal/replication"
	"github.com/launix-de/raftlog/internal/singlestore"
)

type widgetCreated struct {
	ID string `json:"id"`
}

func (w *widgetCreated) Apply(s *engine.State) {
	s.Aggregate("widget").Set(w.ID, json.RawMessage(`{"id":"`+w.ID+`"}`))
}
func (w *widgetCreated) IdempotenceKey() (string, bool) { return "", false }
func (w *widgetCreated) AggregateID() string            { return "widget" }
func (w *widgetCreated) EventType() string              { return "widget.created" }

func decodeWidgetCreated(payload json.RawMessage) (engine.Event, error) {
	var w widgetCreated
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func newTestServer(t *testing.T, withInbound bool) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	store, err := singlestore.Open(dir, filestore.DefaultConfig(), dedup.DefaultPolicy(), nil)
	require.NoError(t, err)
	writer := asyncwriter.New(store, 64, 64)
	container := engine.NewRWLockContainer(engine.NewState())
	eng := engine.New(container, store, writer, engine.Config{})
	eng.MarkReplaying()
	eng.MarkReady()
	t.Cleanup(func() {
		writer.Close()
		store.Close()
	})

	registry := engine.Registry{"widget.created": decodeWidgetCreated}

	var inbound *replication.Inbound
	if withInbound {
		inbound, err = replication.NewInbound(replication.InboundConfig{
			Engine:       eng,
			Registry:     registry,
			ProcessedDir: t.TempDir(),
		})
		require.NoError(t, err)
		t.Cleanup(func() { inbound.Close() })
	}

	srv := New(Config{Engine: eng, Registry: registry, Inbound: inbound})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHandleApplyEvent_AppliesKnownEventType(t *testing.T) {
	ts := newTestServer(t, false)

	resp, err := http.Post(ts.URL+"/events", "application/json",
		bytes.NewBufferString(`{"event_type":"widget.created","payload":{"id":"w1"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "applied", body["status"])
}

func TestHandleApplyEvent_RejectsUnknownEventType(t *testing.T) {
	ts := newTestServer(t, false)

	resp, err := http.Post(ts.URL+"/events", "application/json",
		bytes.NewBufferString(`{"event_type":"unknown.type","payload":{}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleApplyEvent_RejectsMalformedJSON(t *testing.T) {
	ts := newTestServer(t, false)

	resp, err := http.Post(ts.URL+"/events", "application/json", bytes.NewBufferString(`{not-json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleReadState_ReturnsAppliedAggregateState(t *testing.T) {
	ts := newTestServer(t, false)

	_, err := http.Post(ts.URL+"/events", "application/json",
		bytes.NewBufferString(`{"event_type":"widget.created","payload":{"id":"w1"}}`))
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/state/widget")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out, "w1")
}

func TestHandleReadState_UnknownAggregateReturnsEmptyObject(t *testing.T) {
	ts := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/state/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Empty(t, out)
}

func TestHandleReplicateBulk_WithoutInboundConfiguredReturns503(t *testing.T) {
	ts := newTestServer(t, false)

	resp, err := http.Post(ts.URL+"/internal/replicate_bulk", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleReplicateBulk_AppliesReplicatedEvents(t *testing.T) {
	ts := newTestServer(t, true)

	body := `{"batch_id":"batch-1","events":[{"event_type":"widget.created","event_id":"1","payload":"{\"id\":\"w1\"}","aggregate_id":"widget"}]}`
	resp, err := http.Post(ts.URL+"/internal/replicate_bulk", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleReplicateBulk_RejectsNonAuthoritativeLeaderWith409(t *testing.T) {
	dir := t.TempDir()
	store, err := singlestore.Open(dir, filestore.DefaultConfig(), dedup.DefaultPolicy(), nil)
	require.NoError(t, err)
	writer := asyncwriter.New(store, 64, 64)
	container := engine.NewRWLockContainer(engine.NewState())
	eng := engine.New(container, store, writer, engine.Config{})
	eng.MarkReplaying()
	eng.MarkReady()
	t.Cleanup(func() {
		writer.Close()
		store.Close()
	})

	registry := engine.Registry{"widget.created": decodeWidgetCreated}
	// node-a sorts lowest among node-a/node-b, so this node believes node-a is leader.
	state := leadership.New(leadership.Config{SelfID: "node-b", Peers: []string{"node-a"}})
	inbound, err := replication.NewInbound(replication.InboundConfig{
		Leadership:   state,
		Engine:       eng,
		Registry:     registry,
		ProcessedDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { inbound.Close() })

	srv := New(Config{Engine: eng, Registry: registry, Inbound: inbound})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	body := `{"batch_id":"batch-1","leader_id":"rogue-node","events":[]}`
	resp, err := http.Post(ts.URL+"/internal/replicate_bulk", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "non-authoritative leader", out["error"])
	assert.Equal(t, "node-a", out["expected"])
	assert.Equal(t, "rogue-node", out["got"])
}

func TestHandleHeartbeat_WithoutInboundConfiguredReturns503(t *testing.T) {
	ts := newTestServer(t, false)

	resp, err := http.Post(ts.URL+"/internal/heartbeat", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleHealthz_ReportsEnginePhase(t *testing.T) {
	ts := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Ready", body["phase"])
}

func TestHandleFlush_FlushesPendingWrites(t *testing.T) {
	ts := newTestServer(t, false)

	resp, err := http.Post(ts.URL+"/admin/flush", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleCorruption_ReportsNoCorruptionByDefault(t *testing.T) {
	ts := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/admin/corruption")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["corruption_detected"])
}
