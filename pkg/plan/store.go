package plan

import (
	"fmt"
	"sync"
)

// Store holds all plans for one planning session. The planning tool is its
// only mutator. Ids keep creation order so listing is stable and deleting
// the active plan promotes the oldest remaining one.
type Store struct {
	mu       sync.RWMutex
	plans    map[string]*Plan
	order    []string
	activeID string
}

func NewStore() *Store {
	return &Store{plans: make(map[string]*Plan)}
}

// Create adds a plan with all steps not started and makes it active.
func (s *Store) Create(id, title string, steps []string) (*Plan, error) {
	if id == "" {
		return nil, fmt.Errorf("The `plan_id` parameter is required for command: create")
	}
	if title == "" {
		return nil, fmt.Errorf("The `title` parameter is required for command: create")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("The `steps` parameter must be a non-empty list of strings for command: create")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[id]; exists {
		return nil, fmt.Errorf("Plan with ID '%s' already exists. Use 'update' to modify the existing plan.", id)
	}

	p := &Plan{ID: id, Title: title, Steps: make([]Step, len(steps))}
	for i, content := range steps {
		p.Steps[i] = Step{Content: content, Status: StatusNotStarted}
	}

	s.plans[id] = p
	s.order = append(s.order, id)
	s.activeID = id
	return p.Clone(), nil
}

// Update replaces the title and/or steps of a plan. Empty title and empty
// steps leave the respective field untouched. A step whose text is unchanged
// at the same index keeps its status, notes, and result; every other step
// resets to not started.
func (s *Store) Update(id, title string, steps []string) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.resolveLocked(id)
	if err != nil {
		return nil, err
	}

	if title != "" {
		p.Title = title
	}

	if len(steps) > 0 {
		old := p.Steps
		p.Steps = make([]Step, len(steps))
		for i, content := range steps {
			if i < len(old) && content == old[i].Content {
				p.Steps[i] = old[i]
			} else {
				p.Steps[i] = Step{Content: content, Status: StatusNotStarted}
			}
		}
	}

	return p.Clone(), nil
}

// Get returns a snapshot of the plan, or of the active plan when id is empty.
func (s *Store) Get(id string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.resolveLocked(id)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Active returns a snapshot of the active plan, if any.
func (s *Store) Active() (*Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return nil, false
	}
	p, ok := s.plans[s.activeID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// ActiveID returns the id of the active plan, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// List returns snapshots of all plans in creation order plus the active id.
func (s *Store) List() ([]*Plan, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plans := make([]*Plan, 0, len(s.order))
	for _, id := range s.order {
		plans = append(plans, s.plans[id].Clone())
	}
	return plans, s.activeID
}

// SetActive switches the active plan.
func (s *Store) SetActive(id string) error {
	if id == "" {
		return fmt.Errorf("The `plan_id` parameter is required for command: set_active")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[id]; !ok {
		return fmt.Errorf("Plan not found with ID: %s", id)
	}
	s.activeID = id
	return nil
}

// MarkStep sets the status and/or notes of one step. Empty status or notes
// leave the respective field untouched.
func (s *Store) MarkStep(id string, index int, status StepStatus, notes string) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.resolveLocked(id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(p.Steps) {
		return nil, fmt.Errorf("Invalid step_index: %d. Valid indices are 0 to %d.", index, len(p.Steps)-1)
	}

	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("Invalid step_status: %s. Valid statuses: %s", status, statusList())
		}
		p.Steps[index].Status = status
	}
	if notes != "" {
		p.Steps[index].Notes = notes
	}

	return p.Clone(), nil
}

// AddResult records the result string of one step.
func (s *Store) AddResult(id string, index int, result string) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.resolveLocked(id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(p.Steps) {
		return nil, fmt.Errorf("Invalid step_index: %d. Valid indices are 0 to %d.", index, len(p.Steps)-1)
	}

	p.Steps[index].Result = result
	return p.Clone(), nil
}

// Delete removes a plan. Deleting the active plan promotes the oldest
// remaining plan, or clears the active id when none remain.
func (s *Store) Delete(id string) error {
	if id == "" {
		return fmt.Errorf("The `plan_id` parameter is required for command: delete")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[id]; !ok {
		return fmt.Errorf("Plan not found with ID: %s", id)
	}

	delete(s.plans, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if s.activeID == id {
		if len(s.order) > 0 {
			s.activeID = s.order[0]
		} else {
			s.activeID = ""
		}
	}
	return nil
}

// resolveLocked maps an optional id to a stored plan, falling back to the
// active plan. Callers hold s.mu.
func (s *Store) resolveLocked(id string) (*Plan, error) {
	if id == "" {
		id = s.activeID
	}
	p, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("Plan not found with ID: %s", id)
	}
	return p, nil
}

func statusList() string {
	out := ""
	for i, st := range AllStatuses() {
		if i > 0 {
			out += ", "
		}
		out += string(st)
	}
	return out
}
