package events_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"seatreserve/internal/events"
	"seatreserve/internal/notifications"
	"seatreserve/internal/reservations"
	"seatreserve/internal/seats"
	"seatreserve/pkg/cache"
	"seatreserve/pkg/clock"
	"seatreserve/pkg/errs"
	"seatreserve/pkg/logger"
)

const (
	organizer = "org-1"
	stranger  = "org-2"
	buyer     = "user-buyer"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e notifications.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) last(t notifications.EventType) (notifications.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return notifications.Event{}, false
}

// mapCache is a process-local cache.Service
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	hits    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (m *mapCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	m.hits++
	return json.Unmarshal(raw, dest)
}

func (m *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *mapCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *mapCache) DeletePattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *mapCache) Ping(context.Context) error { return nil }

type CatalogTestSuite struct {
	suite.Suite
	ctx      context.Context
	clock    *clock.MockClock
	notifier *recordingNotifier
	seats    seats.Service
	resRepo  reservations.Repository
	ledger   reservations.Service
	cache    *mapCache
	catalog  events.Service
	owner    events.Actor
}

func (s *CatalogTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clock.NewMockClock(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC))
	s.notifier = &recordingNotifier{}
	s.seats = seats.NewService(seats.NewMemoryRepository(), s.notifier, logger.Discard(), seats.WithClock(s.clock))
	s.resRepo = reservations.NewMemoryRepository()
	s.ledger = reservations.NewService(s.resRepo, s.seats, s.notifier, logger.Discard(), reservations.WithClock(s.clock))
	s.seats.SetReservationHooks(s.ledger, s.ledger)

	s.cache = newMapCache()
	s.catalog = events.NewService(events.NewMemoryRepository(), s.seats, s.ledger, s.notifier, logger.Discard(), events.WithClock(s.clock))
	s.catalog.SetCacheService(s.cache)
	s.owner = events.Actor{UserID: organizer}
}

func TestCatalogSuite(t *testing.T) {
	suite.Run(t, new(CatalogTestSuite))
}

func (s *CatalogTestSuite) createEvent(title string) *events.EventResponse {
	event, err := s.catalog.CreateEvent(s.ctx, s.owner, events.CreateEventRequest{
		Title:    title,
		Venue:    "Main Hall",
		StartsAt: s.clock.Now().Add(30 * 24 * time.Hour),
	})
	s.Require().NoError(err)
	return event
}

func (s *CatalogTestSuite) createScenario(eventID string) *events.ScenarioResponse {
	scenario, err := s.catalog.CreateScenario(s.ctx, eventID, s.owner, events.CreateScenarioRequest{Name: "Floor"})
	s.Require().NoError(err)
	return scenario
}

func (s *CatalogTestSuite) seatByCode(scenarioID, code string) seats.SeatResponse {
	all, err := s.seats.GetScenarioSeats(s.ctx, scenarioID)
	s.Require().NoError(err)
	for _, seat := range all {
		if seat.Code == code {
			return seat
		}
	}
	s.FailNow("seat not found", code)
	return seats.SeatResponse{}
}

func (s *CatalogTestSuite) codes(scenarioID string) []string {
	all, err := s.seats.GetScenarioSeats(s.ctx, scenarioID)
	s.Require().NoError(err)
	out := make([]string, 0, len(all))
	for _, seat := range all {
		out = append(out, seat.Code)
	}
	return out
}

func (s *CatalogTestSuite) TestCreateEventStartsAsDraft() {
	event := s.createEvent("Spring Gala")

	s.Equal(events.StatusDraft, event.Status)
	s.Equal(organizer, event.OrganizerID)
	s.Empty(event.Scenarios)
}

func (s *CatalogTestSuite) TestCreateEventRejectsPastStart() {
	_, err := s.catalog.CreateEvent(s.ctx, s.owner, events.CreateEventRequest{
		Title:    "Yesterday",
		StartsAt: s.clock.Now().Add(-time.Hour),
	})
	s.Equal(errs.KindValidation, errs.KindOf(err))
}

func (s *CatalogTestSuite) TestCreateEventWithSeatTypesProvisionsGeneralScenario() {
	event, err := s.catalog.CreateEvent(s.ctx, s.owner, events.CreateEventRequest{
		Title:    "Jazz Night",
		StartsAt: s.clock.Now().Add(24 * time.Hour),
		SeatTypes: []events.SeatTypeRequest{
			{Name: "BOX", Quantity: 2, Price: 80},
			{Name: "STALL", Quantity: 3, Price: 30},
		},
	})
	s.Require().NoError(err)
	s.Require().Len(event.Scenarios, 1)

	scenario := event.Scenarios[0]
	s.Equal("General", scenario.Name)
	s.Equal(5, scenario.SeatCount)
	s.Equal([]string{"BOX-1", "BOX-2", "STALL-1", "STALL-2", "STALL-3"}, s.codes(scenario.ID))
	s.Equal(80.0, s.seatByCode(scenario.ID, "BOX-2").Price)
}

func (s *CatalogTestSuite) TestCreateEventRejectsDuplicateSeatTypes() {
	_, err := s.catalog.CreateEvent(s.ctx, s.owner, events.CreateEventRequest{
		Title:    "Twice",
		StartsAt: s.clock.Now().Add(24 * time.Hour),
		SeatTypes: []events.SeatTypeRequest{
			{Name: "BOX", Quantity: 1},
			{Name: "BOX", Quantity: 1},
		},
	})
	s.Equal(errs.KindValidation, errs.KindOf(err))
}

func (s *CatalogTestSuite) TestCreateScenarioProvisionsDefaultGrid() {
	event := s.createEvent("Opera")
	scenario := s.createScenario(event.ID)

	s.Equal(50, scenario.SeatCount)
	codes := s.codes(scenario.ID)
	s.Equal("A1", codes[0])
	s.Equal("E10", codes[len(codes)-1])

	tests := []struct {
		code     string
		category string
		price    float64
	}{
		{"A1", "VIP", 50},
		{"B10", "VIP", 50},
		{"C1", "GENERAL", 25},
		{"E10", "GENERAL", 25},
	}
	for _, tt := range tests {
		seat := s.seatByCode(scenario.ID, tt.code)
		s.Equal(tt.category, seat.Category, tt.code)
		s.Equal(tt.price, seat.Price, tt.code)
		s.Equal(seats.StateAvailable, seat.State, tt.code)
	}
}

func (s *CatalogTestSuite) TestOnlyOwningOrganizerMayMutate() {
	event := s.createEvent("Private")
	other := events.Actor{UserID: stranger}

	_, err := s.catalog.UpdateEvent(s.ctx, event.ID, other, events.UpdateEventRequest{Venue: strPtr("Elsewhere")})
	s.Equal(errs.KindForbidden, errs.KindOf(err))

	_, err = s.catalog.PublishEvent(s.ctx, event.ID, other)
	s.Equal(errs.KindForbidden, errs.KindOf(err))

	_, err = s.catalog.CreateScenario(s.ctx, event.ID, other, events.CreateScenarioRequest{Name: "X"})
	s.Equal(errs.KindForbidden, errs.KindOf(err))

	s.Equal(errs.KindForbidden, errs.KindOf(s.catalog.DeleteEvent(s.ctx, event.ID, other)))

	// Admins manage any event
	_, err = s.catalog.PublishEvent(s.ctx, event.ID, events.Actor{UserID: "admin", Admin: true})
	s.NoError(err)
}

func (s *CatalogTestSuite) TestPublishBroadcastsOnce() {
	event := s.createEvent("Launch")

	published, err := s.catalog.PublishEvent(s.ctx, event.ID, s.owner)
	s.Require().NoError(err)
	s.Equal(events.StatusPublished, published.Status)

	evt, ok := s.notifier.last(notifications.EventPublished)
	s.Require().True(ok)
	s.True(evt.Broadcast)
	s.Equal(event.ID, evt.EventID)

	_, err = s.catalog.PublishEvent(s.ctx, event.ID, s.owner)
	s.Equal(errs.KindConflict, errs.KindOf(err))
}

func (s *CatalogTestSuite) TestUpdateEvent() {
	event := s.createEvent("Old Title")

	updated, err := s.catalog.UpdateEvent(s.ctx, event.ID, s.owner, events.UpdateEventRequest{Title: strPtr("New Title")})
	s.Require().NoError(err)
	s.Equal("New Title", updated.Title)
	s.Equal("Main Hall", updated.Venue)

	_, ok := s.notifier.last(notifications.EventUpdated)
	s.True(ok)

	_, err = s.catalog.UpdateEvent(s.ctx, event.ID, s.owner, events.UpdateEventRequest{})
	s.Equal(errs.KindValidation, errs.KindOf(err))

	past := s.clock.Now().Add(-time.Minute)
	_, err = s.catalog.UpdateEvent(s.ctx, event.ID, s.owner, events.UpdateEventRequest{StartsAt: &past})
	s.Equal(errs.KindValidation, errs.KindOf(err))
}

func (s *CatalogTestSuite) TestGetEventIsCachedUntilChanged() {
	event := s.createEvent("Cached")

	_, err := s.catalog.GetEvent(s.ctx, event.ID)
	s.Require().NoError(err)
	_, err = s.catalog.GetEvent(s.ctx, event.ID)
	s.Require().NoError(err)
	s.Equal(1, s.cache.hits)

	s.createScenario(event.ID)

	got, err := s.catalog.GetEvent(s.ctx, event.ID)
	s.Require().NoError(err)
	s.Equal(1, s.cache.hits, "scenario creation must invalidate the cached event")
	s.Require().Len(got.Scenarios, 1)
	s.Equal(50, got.Scenarios[0].SeatCount)
}

func (s *CatalogTestSuite) TestGetAllEventsFiltersAndPaginates() {
	s.createEvent("First")
	s.clock.Add(time.Minute)
	s.createEvent("Second")
	_, err := s.catalog.CreateEvent(s.ctx, events.Actor{UserID: stranger}, events.CreateEventRequest{
		Title:    "Someone else's",
		StartsAt: s.clock.Now().Add(48 * time.Hour),
	})
	s.Require().NoError(err)

	all, err := s.catalog.GetAllEvents(s.ctx, events.EventListQuery{Page: 1, Limit: 2})
	s.Require().NoError(err)
	s.EqualValues(3, all.TotalCount)
	s.Equal(2, all.TotalPages)
	s.Len(all.Events, 2)

	mine, err := s.catalog.GetAllEvents(s.ctx, events.EventListQuery{OrganizerID: organizer})
	s.Require().NoError(err)
	s.EqualValues(2, mine.TotalCount)

	searched, err := s.catalog.GetAllEvents(s.ctx, events.EventListQuery{Search: "second"})
	s.Require().NoError(err)
	s.Require().Len(searched.Events, 1)
	s.Equal("Second", searched.Events[0].Title)
}

func (s *CatalogTestSuite) TestAddSeatsContinuesNumbering() {
	event := s.createEvent("Balcony")
	scenario := s.createScenario(event.ID)

	first, err := s.catalog.AddSeats(s.ctx, scenario.ID, s.owner, events.AddSeatsRequest{Count: 2, Category: "BALC", Price: 15})
	s.Require().NoError(err)
	s.Equal(2, first.Count)

	_, err = s.catalog.AddSeats(s.ctx, scenario.ID, s.owner, events.AddSeatsRequest{Count: 1, Category: "BALC", Price: 15})
	s.Require().NoError(err)

	codes := s.codes(scenario.ID)
	s.Len(codes, 53)
	s.Equal([]string{"BALC-1", "BALC-2", "BALC-3"}, codes[50:])
}

func (s *CatalogTestSuite) TestRemoveSeatsTakesTrailingSeats() {
	event := s.createEvent("Trim")
	scenario := s.createScenario(event.ID)

	removed, err := s.catalog.RemoveSeats(s.ctx, scenario.ID, s.owner, 3)
	s.Require().NoError(err)
	s.Equal(3, removed.Count)

	codes := s.codes(scenario.ID)
	s.Len(codes, 47)
	s.Equal("E7", codes[len(codes)-1])

	_, ok := s.notifier.last(notifications.SeatRemoved)
	s.True(ok)
}

func (s *CatalogTestSuite) TestRemoveSeatsCancelsReservationsHoldingThem() {
	event := s.createEvent("Contested")
	scenario := s.createScenario(event.ID)
	e10 := s.seatByCode(scenario.ID, "E10")
	a1 := s.seatByCode(scenario.ID, "A1")

	for _, seatID := range []string{a1.ID, e10.ID} {
		_, err := s.ledger.Hold(s.ctx, reservations.HoldCommand{
			ReservationID: "R3",
			OwnerID:       buyer,
			ScenarioID:    scenario.ID,
			SeatID:        seatID,
		})
		s.Require().NoError(err)
	}

	_, err := s.catalog.RemoveSeats(s.ctx, scenario.ID, s.owner, 1)
	s.Require().NoError(err)

	r, err := s.resRepo.GetByID(s.ctx, "R3")
	s.Require().NoError(err)
	s.Equal(reservations.StatusCancelled, r.Status)
	s.Equal(seats.StateAvailable, s.seatByCode(scenario.ID, "A1").State)
}

func (s *CatalogTestSuite) TestDeleteSeatChecksOwnership() {
	event := s.createEvent("Guarded")
	scenario := s.createScenario(event.ID)
	a1 := s.seatByCode(scenario.ID, "A1")

	err := s.catalog.DeleteSeat(s.ctx, a1.ID, events.Actor{UserID: stranger})
	s.Equal(errs.KindForbidden, errs.KindOf(err))

	s.Require().NoError(s.catalog.DeleteSeat(s.ctx, a1.ID, s.owner))
	_, err = s.seats.GetSeat(s.ctx, a1.ID)
	s.Equal(errs.KindNotFound, errs.KindOf(err))
}

func (s *CatalogTestSuite) TestDeleteEventCancelsReservationsAndRemovesSeats() {
	event := s.createEvent("Doomed")
	scenario := s.createScenario(event.ID)
	b2 := s.seatByCode(scenario.ID, "B2")

	_, err := s.ledger.Hold(s.ctx, reservations.HoldCommand{
		ReservationID: "R9",
		OwnerID:       buyer,
		ScenarioID:    scenario.ID,
		SeatID:        b2.ID,
	})
	s.Require().NoError(err)

	s.Require().NoError(s.catalog.DeleteEvent(s.ctx, event.ID, s.owner))

	r, err := s.resRepo.GetByID(s.ctx, "R9")
	s.Require().NoError(err)
	s.Equal(reservations.StatusCancelled, r.Status)
	s.Equal(reservations.ReasonEventDeleted, r.CloseReason)

	remaining, err := s.seats.GetScenarioSeats(s.ctx, scenario.ID)
	s.Require().NoError(err)
	s.Empty(remaining)

	_, err = s.catalog.GetEvent(s.ctx, event.ID)
	s.Equal(errs.KindNotFound, errs.KindOf(err))

	deleted, ok := s.notifier.last(notifications.EventDeleted)
	s.Require().True(ok)
	s.True(deleted.Broadcast)
}

// racingInventory runs a hook just before the seats of an event are removed
type racingInventory struct {
	seats.Service
	beforeDelete func()
}

func (r *racingInventory) DeleteEventSeats(ctx context.Context, eventID string) (int64, error) {
	if r.beforeDelete != nil {
		r.beforeDelete()
	}
	return r.Service.DeleteEventSeats(ctx, eventID)
}

func (s *CatalogTestSuite) TestDeleteEventCancelsHoldTakenDuringDelete() {
	inventory := &racingInventory{Service: s.seats}
	catalog := events.NewService(events.NewMemoryRepository(), inventory, s.ledger, s.notifier, logger.Discard(), events.WithClock(s.clock))

	event, err := catalog.CreateEvent(s.ctx, s.owner, events.CreateEventRequest{
		Title:    "Contested",
		Venue:    "Main Hall",
		StartsAt: s.clock.Now().Add(30 * 24 * time.Hour),
	})
	s.Require().NoError(err)
	scenario, err := catalog.CreateScenario(s.ctx, event.ID, s.owner, events.CreateScenarioRequest{Name: "Floor"})
	s.Require().NoError(err)
	a1 := s.seatByCode(scenario.ID, "A1")

	inventory.beforeDelete = func() {
		_, err := s.ledger.Hold(s.ctx, reservations.HoldCommand{
			ReservationID: "R10",
			OwnerID:       buyer,
			ScenarioID:    scenario.ID,
			SeatID:        a1.ID,
		})
		s.Require().NoError(err)
	}

	s.Require().NoError(catalog.DeleteEvent(s.ctx, event.ID, s.owner))

	r, err := s.resRepo.GetByID(s.ctx, "R10")
	s.Require().NoError(err)
	s.Equal(reservations.StatusCancelled, r.Status)
	s.Equal(reservations.ReasonEventDeleted, r.CloseReason)
}

func strPtr(v string) *string {
	return &v
}
