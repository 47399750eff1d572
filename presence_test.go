package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodePresence(t *testing.T, data []byte) presenceFrame {
	t.Helper()
	var frame presenceFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestPresenceBroadcaster_SamePayloadToEveryConnection(t *testing.T) {
	b := NewPresenceBroadcaster(testLogger())
	c1 := newTestConn("c1", "u1", "alice")
	c2 := newTestConn("c2", "u2", "bob")
	roster := []Identity{
		{UserID: "u1", Username: "alice"},
		{UserID: "u2", Username: "bob"},
	}

	b.Announce(roster, []*Connection{c1, c2})

	f1 := drainFrames(c1)
	f2 := drainFrames(c2)
	require.Len(t, f1, 1)
	require.Len(t, f2, 1)
	assert.Equal(t, f1[0], f2[0])
	assert.ElementsMatch(t, roster, decodePresence(t, f1[0]).Online)
}

func TestPresence_BroadcastOnEveryMembershipChange(t *testing.T) {
	b := NewPresenceBroadcaster(testLogger())
	r := NewRegistry(b.Announce)

	c1 := newTestConn("c1", "u1", "alice")
	require.NoError(t, r.Add(c1))

	frames := drainFrames(c1)
	require.Len(t, frames, 1)
	assert.ElementsMatch(t, []Identity{{UserID: "u1", Username: "alice"}}, decodePresence(t, frames[0]).Online)

	c2 := newTestConn("c2", "u2", "bob")
	require.NoError(t, r.Add(c2))

	frames = drainFrames(c1)
	require.Len(t, frames, 1)
	assert.ElementsMatch(t, []Identity{
		{UserID: "u1", Username: "alice"},
		{UserID: "u2", Username: "bob"},
	}, decodePresence(t, frames[0]).Online)
	require.Len(t, drainFrames(c2), 1)

	// Eviction of bob reaches the remaining connection and omits him.
	r.Remove("c2")

	frames = drainFrames(c1)
	require.Len(t, frames, 1)
	assert.ElementsMatch(t, []Identity{{UserID: "u1", Username: "alice"}}, decodePresence(t, frames[0]).Online)
	assert.Empty(t, drainFrames(c2))
}
