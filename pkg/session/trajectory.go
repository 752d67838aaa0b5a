package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DistilledAI/conductor/pkg/events"
)

// EncodeTrajectory renders events as an indented JSON array of event
// envelopes. The format round-trips through DecodeTrajectory and feeds
// deterministic replay.
func EncodeTrajectory(evs []events.Event) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(evs))
	for _, ev := range evs {
		data, err := events.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode trajectory event %d: %w", ev.Meta().ID, err)
		}
		raw = append(raw, data)
	}
	return json.MarshalIndent(raw, "", "  ")
}

// DecodeTrajectory parses a trajectory file back into events.
func DecodeTrajectory(data []byte) ([]events.Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("trajectory is not a JSON event array: %w", err)
	}
	out := make([]events.Event, 0, len(raw))
	for i, entry := range raw {
		ev, err := events.Unmarshal(entry)
		if err != nil {
			return nil, fmt.Errorf("decode trajectory event %d: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// SaveTrajectory writes the events to path, creating parent directories.
func SaveTrajectory(path string, evs []events.Event) error {
	data, err := EncodeTrajectory(evs)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create trajectory directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write trajectory: %w", err)
	}
	return nil
}

// LoadTrajectory reads a trajectory file saved by SaveTrajectory.
func LoadTrajectory(path string) ([]events.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trajectory: %w", err)
	}
	return DecodeTrajectory(data)
}
