package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistilledAI/conductor/pkg/events"
)

func recordedEvents(t *testing.T) []events.Event {
	t.Helper()
	stream := events.NewStream("conv-traj", nil)
	defer stream.Close()

	stream.Publish(&events.MessageAction{Content: "check disk usage"}, events.SourceUser)
	cmdID := stream.Publish(&events.CmdRunAction{Command: "df -h", Thought: "checking"}, events.SourceAgent)
	out := &events.CmdOutputObservation{Content: "82% used", ExitCode: 0}
	out.Meta().Cause = cmdID
	stream.Publish(out, events.SourceEnvironment)

	evs := stream.GetEvents(0, -1, false, nil, false)
	require.Len(t, evs, 3)
	return evs
}

func TestTrajectoryRoundTrip(t *testing.T) {
	evs := recordedEvents(t)

	data, err := EncodeTrajectory(evs)
	require.NoError(t, err)

	decoded, err := DecodeTrajectory(data)
	require.NoError(t, err)
	require.Len(t, decoded, len(evs))

	for i, ev := range decoded {
		assert.Equal(t, evs[i].Kind(), ev.Kind())
		assert.Equal(t, evs[i].Meta().ID, ev.Meta().ID)
		assert.Equal(t, evs[i].Meta().Source, ev.Meta().Source)
		assert.Equal(t, evs[i].Meta().Cause, ev.Meta().Cause)
	}

	cmd, ok := decoded[1].(*events.CmdRunAction)
	require.True(t, ok)
	assert.Equal(t, "df -h", cmd.Command)
	obs, ok := decoded[2].(*events.CmdOutputObservation)
	require.True(t, ok)
	assert.Equal(t, "82% used", obs.Content)
}

func TestTrajectorySaveLoad(t *testing.T) {
	evs := recordedEvents(t)
	path := filepath.Join(t.TempDir(), "out", "trajectory.json")

	require.NoError(t, SaveTrajectory(path, evs))

	loaded, err := LoadTrajectory(path)
	require.NoError(t, err)
	require.Len(t, loaded, len(evs))
	assert.Equal(t, events.KindMessage, loaded[0].Kind())
}

func TestTrajectoryDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeTrajectory([]byte(`{"not": "an array"}`))
	require.Error(t, err)

	_, err = DecodeTrajectory([]byte(`[{"kind": "no_such_kind", "event": {}}]`))
	require.Error(t, err)
}

func TestLoadTrajectoryMissingFile(t *testing.T) {
	_, err := LoadTrajectory(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
