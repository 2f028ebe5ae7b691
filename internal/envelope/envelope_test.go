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
package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_Aggregate_DefaultsToGlobal(t *testing.T) {
	e := &Envelope{EventType: "widget.created"}
	assert.Equal(t, GlobalAggregate, e.Aggregate())

	e.AggregateID = "widget-1"
	assert.Equal(t, "widget-1", e.Aggregate())
}

func TestEnvelope_MarshalUnmarshalLine_RoundTrips(t *testing.T) {
	e := &Envelope{
		EventType:   "widget.created",
		EventID:     "evt-1",
		Timestamp:   1700000000,
		Payload:     `{"name":"widget"}`,
		AggregateID: "widget-1",
	}
	line, err := e.MarshalLine()
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), line[len(line)-1])

	got, err := Unmarshal(line[:len(line)-1])
	require.NoError(t, err)
	assert.Equal(t, e.EventType, got.EventType)
	assert.Equal(t, e.EventID, got.EventID)
	assert.Equal(t, e.Payload, got.Payload)
}

func TestUnmarshal_CorruptLine(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	require.Error(t, err)
}

func TestChain_LinkThenVerify(t *testing.T) {
	c := NewChain()
	e1 := &Envelope{EventType: "a", EventID: "1"}
	c.Link(e1)
	assert.Equal(t, ZeroHash, e1.PreviousHash)
	assert.NotEmpty(t, e1.EventHash)

	verifier := NewChain()
	require.NoError(t, verifier.VerifyNext(e1))

	e2 := &Envelope{EventType: "b", EventID: "2"}
	c.Link(e2)
	assert.Equal(t, e1.EventHash, e2.PreviousHash)
	require.NoError(t, verifier.VerifyNext(e2))
}

func TestChain_VerifyNext_DetectsBrokenChain(t *testing.T) {
	c := NewChain()
	e1 := &Envelope{EventType: "a", EventID: "1"}
	c.Link(e1)
	e2 := &Envelope{EventType: "b", EventID: "2"}
	c.Link(e2)

	// Tamper with the payload after hashing: the chain must notice.
	e2.Payload = "tampered"

	verifier := NewChain()
	require.NoError(t, verifier.VerifyNext(e1))
	err := verifier.VerifyNext(e2)
	require.Error(t, err)
}

func TestChain_Seed_ResumesFromSavedHash(t *testing.T) {
	c := NewChain()
	e1 := &Envelope{EventType: "a", EventID: "1"}
	c.Link(e1)

	resumed := NewChain()
	resumed.Seed(e1.EventHash)
	e2 := &Envelope{EventType: "b", EventID: "2"}
	resumed.Link(e2)
	assert.Equal(t, e1.EventHash, e2.PreviousHash)
}

func TestChain_Seed_EmptyFallsBackToZeroHash(t *testing.T) {
	c := NewChain()
	c.Seed("")
	e := &Envelope{EventType: "a", EventID: "1"}
	c.Link(e)
	assert.Equal(t, ZeroHash, e.PreviousHash)
}
