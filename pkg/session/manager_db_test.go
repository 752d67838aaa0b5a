package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistilledAI/conductor/pkg/controller"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/test/util"
)

// The full persistence path: conversation row on create, journal rows for
// every stream event, and state/final-thought sync on terminal transitions.
func TestManagerPersistsConversationLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := util.SetupTestDatabase(t)
	srv := scriptedLLM(t, finishResponse(t, "call_1", "Nothing to do."))

	m := NewManager(testConfig(srv.URL, 2), pool, events.NewJournal(pool))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})

	sess, err := m.Create(context.Background(), CreateParams{InitialMessage: "say hi"})
	require.NoError(t, err)
	waitForState(t, sess, controller.StateFinished)

	// The state watcher mirrors the terminal transition onto the row.
	var status, agentState, finalThought string
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := pool.QueryRow(ctx,
			`SELECT status, agent_state, final_thought FROM conversations WHERE id = $1`,
			sess.ID()).Scan(&status, &agentState, &finalThought)
		return err == nil && status == "completed"
	}, 15*time.Second, 100*time.Millisecond)
	assert.Equal(t, "finished", agentState)
	assert.Equal(t, "Nothing to do.", finalThought)

	rec, err := m.LookupConversation(context.Background(), sess.ID())
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, "Nothing to do.", rec.FinalThought)

	// Every stream event went through the journal sink.
	journaled, err := events.NewJournal(pool).GetEvents(context.Background(), sess.ID(), -1, 0)
	require.NoError(t, err)
	assert.Equal(t, len(sess.Trajectory()), len(journaled))

	list, err := m.ListConversations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID(), list[0].ID)

	_, err = m.LookupConversation(context.Background(), "22222222-2222-2222-2222-222222222222")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}
