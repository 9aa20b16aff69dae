package events

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"seatreserve/pkg/errs"
)

type memoryRepository struct {
	mu        sync.Mutex
	events    map[string]*Event
	scenarios map[string]*Scenario
}

// NewMemoryRepository returns an in-process catalog for development and tests
func NewMemoryRepository() Repository {
	return &memoryRepository{
		events:    make(map[string]*Event),
		scenarios: make(map[string]*Scenario),
	}
}

func (m *memoryRepository) Create(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.events[event.ID]; exists {
		return errs.Mark(errs.Newf("event %s already exists", event.ID), errs.ErrConflict)
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	stored := *event
	stored.Scenarios = nil
	m.events[event.ID] = &stored
	for i := range event.Scenarios {
		sc := event.Scenarios[i]
		sc.EventID = event.ID
		if sc.CreatedAt.IsZero() {
			sc.CreatedAt = now
		}
		m.scenarios[sc.ID] = &sc
	}
	return nil
}

func (m *memoryRepository) GetByID(_ context.Context, id string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return nil, errs.NotFound("event %s not found", id)
	}
	c := m.withScenarios(e)
	return &c, nil
}

func (m *memoryRepository) withScenarios(e *Event) Event {
	c := *e
	c.Scenarios = make([]Scenario, 0)
	for _, sc := range m.scenarios {
		if sc.EventID == e.ID {
			c.Scenarios = append(c.Scenarios, *sc)
		}
	}
	sort.Slice(c.Scenarios, func(i, j int) bool {
		if !c.Scenarios[i].CreatedAt.Equal(c.Scenarios[j].CreatedAt) {
			return c.Scenarios[i].CreatedAt.Before(c.Scenarios[j].CreatedAt)
		}
		return c.Scenarios[i].ID < c.Scenarios[j].ID
	})
	return c
}

func (m *memoryRepository) Update(_ context.Context, id string, updates map[string]interface{}) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return nil, errs.NotFound("event %s not found", id)
	}
	for column, value := range updates {
		switch column {
		case "title":
			e.Title = value.(string)
		case "description":
			e.Description = value.(string)
		case "venue":
			e.Venue = value.(string)
		case "starts_at":
			e.StartsAt = value.(time.Time)
		case "status":
			e.Status = value.(EventStatus)
		case "updated_at":
			e.UpdatedAt = value.(time.Time)
		default:
			return nil, errs.Validation("unknown event column %q", column)
		}
	}
	c := m.withScenarios(e)
	return &c, nil
}

func (m *memoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[id]; !ok {
		return errs.NotFound("event %s not found", id)
	}
	delete(m.events, id)
	for scID, sc := range m.scenarios {
		if sc.EventID == id {
			delete(m.scenarios, scID)
		}
	}
	return nil
}

func (m *memoryRepository) GetAll(_ context.Context, query EventListQuery) ([]Event, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	search := strings.ToLower(query.Search)
	from, hasFrom := parseDay(query.DateFrom)
	to, hasTo := parseDay(query.DateTo)

	matched := make([]Event, 0)
	for _, e := range m.events {
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Title), search) &&
			!strings.Contains(strings.ToLower(e.Description), search) &&
			!strings.Contains(strings.ToLower(e.Venue), search) {
			continue
		}
		if query.Status != "" && string(e.Status) != query.Status {
			continue
		}
		if query.OrganizerID != "" && e.OrganizerID != query.OrganizerID {
			continue
		}
		if hasFrom && e.StartsAt.Before(from) {
			continue
		}
		if hasTo && !e.StartsAt.Before(to.Add(24*time.Hour)) {
			continue
		}
		matched = append(matched, m.withScenarios(e))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartsAt.Equal(matched[j].StartsAt) {
			return matched[i].StartsAt.Before(matched[j].StartsAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	offset := (query.Page - 1) * query.Limit
	if offset >= len(matched) {
		return []Event{}, total, nil
	}
	end := offset + query.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *memoryRepository) CreateScenario(_ context.Context, scenario *Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[scenario.EventID]; !ok {
		return errs.NotFound("event %s not found", scenario.EventID)
	}
	if scenario.CreatedAt.IsZero() {
		scenario.CreatedAt = time.Now().UTC()
	}
	sc := *scenario
	m.scenarios[sc.ID] = &sc
	return nil
}

func (m *memoryRepository) GetScenario(_ context.Context, id string) (*Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.scenarios[id]
	if !ok {
		return nil, errs.NotFound("scenario %s not found", id)
	}
	c := *sc
	return &c, nil
}
