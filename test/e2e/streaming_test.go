package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A client that subscribes after the conversation already ran gets the whole
// journal replayed through the NOTIFY-backed feed before live delivery.
func TestLateSubscriberCatchesUp(t *testing.T) {
	llm := scriptedLLM(t, finishResponse(t, "call_1", "Quick run."))
	app := NewTestApp(t, WithLLM(llm.URL))

	id := app.CreateConversation(t, "run to completion")
	app.WaitForAgentState(t, id, "finished")

	ws, err := WSConnect(context.Background(), app.WSURL)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	require.NoError(t, ws.Subscribe(id))
	_, err = ws.WaitForType("subscription.confirmed", 10*time.Second)
	require.NoError(t, err)

	_, err = ws.WaitForKind("finish", 10*time.Second)
	require.NoError(t, err, "catchup never delivered the finish event")

	first, err := ws.WaitForKind("message", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, first.Parsed["conversation_id"])

	// Every event envelope in the feed belongs to the subscribed conversation.
	for _, m := range ws.Messages() {
		if m.Kind == "" {
			continue
		}
		assert.Equal(t, id, m.Parsed["conversation_id"])
	}
}

// Two clients subscribed to the same conversation both receive its events;
// a client subscribed to a different conversation receives none of them.
func TestBroadcastIsScopedToSubscribers(t *testing.T) {
	llm := scriptedLLM(t,
		finishResponse(t, "call_1", "Watched run done."),
		finishResponse(t, "call_2", "Other run done."),
	)
	app := NewTestApp(t, WithLLM(llm.URL))

	watched := app.CreateConversation(t, "the watched conversation")
	app.WaitForAgentState(t, watched, "finished")
	other := app.CreateConversation(t, "the other conversation")
	app.WaitForAgentState(t, other, "finished")

	ctx := context.Background()
	wsA, err := WSConnect(ctx, app.WSURL)
	require.NoError(t, err)
	defer func() { _ = wsA.Close() }()
	wsB, err := WSConnect(ctx, app.WSURL)
	require.NoError(t, err)
	defer func() { _ = wsB.Close() }()

	require.NoError(t, wsA.Subscribe(watched))
	require.NoError(t, wsB.Subscribe(watched))

	for _, ws := range []*WSClient{wsA, wsB} {
		_, err := ws.WaitForKind("finish", 10*time.Second)
		require.NoError(t, err)
	}

	// Neither client subscribed to the other conversation, so none of its
	// envelopes leaked into their feeds.
	for _, ws := range []*WSClient{wsA, wsB} {
		for _, m := range ws.Messages() {
			if m.Kind == "" {
				continue
			}
			assert.Equal(t, watched, m.Parsed["conversation_id"])
		}
	}
}
