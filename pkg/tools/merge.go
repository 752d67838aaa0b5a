package tools

import "log/slog"

// MergeSet is the per-step tool set offered to the LLM, with the
// name → Function Hub external id mapping needed to route calls.
type MergeSet struct {
	defs        []Definition
	externalIDs map[string]string
}

// Merge combines tool definition lists into one set. On a name collision the
// first definition wins and later ones are dropped with a warning, so callers
// list built-in tools before hub results.
func Merge(sets ...[]Definition) *MergeSet {
	m := &MergeSet{externalIDs: make(map[string]string)}
	seen := make(map[string]bool)

	for _, set := range sets {
		for _, def := range set {
			if seen[def.Name] {
				slog.Warn("Duplicate tool name, keeping the first definition",
					"tool", def.Name, "dropped_external_id", def.ExternalID)
				continue
			}
			seen[def.Name] = true
			m.defs = append(m.defs, def)
			if def.ExternalID != "" {
				m.externalIDs[def.Name] = def.ExternalID
			}
		}
	}
	return m
}

// Definitions returns the merged definitions in offer order.
func (m *MergeSet) Definitions() []Definition {
	return m.defs
}

// Has reports whether name is part of the merged set.
func (m *MergeSet) Has(name string) bool {
	_, ok := m.Definition(name)
	return ok
}

// Definition returns the merged definition for name.
func (m *MergeSet) Definition(name string) (Definition, bool) {
	for _, def := range m.defs {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}

// ExternalID returns the Function Hub id for a merged hub tool. The second
// return is false for builtins and unknown names.
func (m *MergeSet) ExternalID(name string) (string, bool) {
	id, ok := m.externalIDs[name]
	return id, ok
}
