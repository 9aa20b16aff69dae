package events

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"seatreserve/internal/notifications"
	"seatreserve/internal/seats"
	"seatreserve/pkg/cache"
	"seatreserve/pkg/clock"
	"seatreserve/pkg/errs"
	"seatreserve/pkg/logger"
)

const (
	defaultScenarioName = "General"
	gridRows            = 5
	gridCols            = 10
	vipRows             = 2
	vipPrice            = 50
	generalPrice        = 25
)

type Service interface {
	SetCacheService(cacheService cache.Service)

	CreateEvent(ctx context.Context, actor Actor, req CreateEventRequest) (*EventResponse, error)
	GetEvent(ctx context.Context, id string) (*EventResponse, error)
	GetAllEvents(ctx context.Context, query EventListQuery) (*PaginatedEvents, error)
	UpdateEvent(ctx context.Context, id string, actor Actor, req UpdateEventRequest) (*EventResponse, error)
	PublishEvent(ctx context.Context, id string, actor Actor) (*EventResponse, error)
	DeleteEvent(ctx context.Context, id string, actor Actor) error

	CreateScenario(ctx context.Context, eventID string, actor Actor, req CreateScenarioRequest) (*ScenarioResponse, error)
	AddSeats(ctx context.Context, scenarioID string, actor Actor, req AddSeatsRequest) (*SeatChangeResponse, error)
	RemoveSeats(ctx context.Context, scenarioID string, actor Actor, count int) (*SeatChangeResponse, error)
	DeleteSeat(ctx context.Context, seatID string, actor Actor) error
}

// SeatInventory is the part of the seat service the catalog provisions through
type SeatInventory interface {
	ProvisionSeats(ctx context.Context, eventID, scenarioID string, specs []seats.SeatSpec) ([]seats.Seat, error)
	GetScenarioSeats(ctx context.Context, scenarioID string) ([]seats.SeatResponse, error)
	GetSeat(ctx context.Context, id string) (*seats.Seat, error)
	DeleteSeat(ctx context.Context, seatID string) error
	DeleteEventSeats(ctx context.Context, eventID string) (int64, error)
}

// ReservationCanceller closes every in-flight reservation of an event
type ReservationCanceller interface {
	CancelByEvent(ctx context.Context, eventID string) (int, error)
}

type service struct {
	repo         Repository
	inventory    SeatInventory
	ledger       ReservationCanceller
	notifier     notifications.Notifier
	cacheService cache.Service
	clock        clock.Clock
	logger       *logger.Logger
}

type ServiceOption func(*service)

func WithClock(c clock.Clock) ServiceOption {
	return func(s *service) {
		s.clock = c
	}
}

func NewService(repo Repository, inventory SeatInventory, ledger ReservationCanceller, notifier notifications.Notifier, l *logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		repo:      repo,
		inventory: inventory,
		ledger:    ledger,
		notifier:  notifier,
		clock:     clock.NewRealClock(),
		logger:    l.WithComponent("events"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCacheService injects the cache service dependency
func (s *service) SetCacheService(cacheService cache.Service) {
	s.cacheService = cacheService
}

// Cache helper methods

func (s *service) getCache(ctx context.Context, key string, dest interface{}) bool {
	if s.cacheService == nil {
		return false
	}
	return s.cacheService.Get(ctx, key, dest) == nil
}

func (s *service) setCache(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if s.cacheService == nil {
		return
	}
	if err := s.cacheService.Set(ctx, key, value, ttl); err != nil {
		s.logger.WarnWithContext(ctx, "Failed to cache value", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

func (s *service) invalidateEventCache(ctx context.Context, eventID string) {
	if s.cacheService == nil {
		return
	}
	if eventID != "" {
		if err := s.cacheService.Delete(ctx, cache.EventDetailKey(eventID)); err != nil {
			s.logger.WarnWithContext(ctx, "Failed to invalidate event cache", map[string]interface{}{"event_id": eventID, "error": err.Error()})
		}
	}
	if err := s.cacheService.DeletePattern(ctx, cache.EventListPattern()); err != nil {
		s.logger.WarnWithContext(ctx, "Failed to invalidate event list cache", map[string]interface{}{"error": err.Error()})
	}
}

// getManaged loads an event and checks that the actor may change it
func (s *service) getManaged(ctx context.Context, id string, actor Actor) (*Event, error) {
	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(event) {
		return nil, errs.Forbidden("event %s belongs to another organizer", id)
	}
	return event, nil
}

func (s *service) getManagedScenario(ctx context.Context, scenarioID string, actor Actor) (*Scenario, *Event, error) {
	scenario, err := s.repo.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, nil, err
	}
	event, err := s.getManaged(ctx, scenario.EventID, actor)
	if err != nil {
		return nil, nil, err
	}
	return scenario, event, nil
}

func (s *service) toResponse(ctx context.Context, event *Event) (*EventResponse, error) {
	response := event.ToResponse()
	for i := range response.Scenarios {
		scenarioSeats, err := s.inventory.GetScenarioSeats(ctx, response.Scenarios[i].ID)
		if err != nil {
			return nil, errs.Wrap(err, "count scenario seats")
		}
		response.Scenarios[i].SeatCount = len(scenarioSeats)
	}
	return &response, nil
}

func (s *service) notifyCatalog(ctx context.Context, eventType notifications.EventType, event *Event) {
	s.notifier.Notify(ctx, notifications.NewEvent(eventType, event.ID, notifications.CatalogEventPayload{
		EventID: event.ID,
		Title:   event.Title,
		Status:  string(event.Status),
	}).ToAll())
}

//  EVENTS

func (s *service) CreateEvent(ctx context.Context, actor Actor, req CreateEventRequest) (*EventResponse, error) {
	if actor.UserID == "" {
		return nil, errs.Forbidden("organizer identity required")
	}
	if req.StartsAt.Before(s.clock.Now()) {
		return nil, errs.Validation("event start must be in the future")
	}

	event := &Event{
		ID:          uuid.NewString(),
		OrganizerID: actor.UserID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Venue:       req.Venue,
		StartsAt:    req.StartsAt.UTC(),
		Status:      StatusDraft,
	}

	var specs []seats.SeatSpec
	if len(req.SeatTypes) > 0 {
		var err error
		if specs, err = seatTypeSpecs(req.SeatTypes); err != nil {
			return nil, err
		}
		event.Scenarios = []Scenario{{ID: uuid.NewString(), EventID: event.ID, Name: defaultScenarioName}}
	}

	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}

	if len(specs) > 0 {
		if _, err := s.inventory.ProvisionSeats(ctx, event.ID, event.Scenarios[0].ID, specs); err != nil {
			if delErr := s.repo.Delete(ctx, event.ID); delErr != nil {
				s.logger.ErrorWithContext(ctx, "Failed to roll back event after provisioning error", delErr, map[string]interface{}{"event_id": event.ID})
			}
			return nil, errs.Wrap(err, "provision seats")
		}
	}

	s.invalidateEventCache(ctx, "")
	s.logger.InfoWithContext(ctx, "Event created", map[string]interface{}{
		"event_id":     event.ID,
		"organizer_id": event.OrganizerID,
		"seats":        len(specs),
	})

	created, err := s.repo.GetByID(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	return s.toResponse(ctx, created)
}

func (s *service) GetEvent(ctx context.Context, id string) (*EventResponse, error) {
	cacheKey := cache.EventDetailKey(id)

	var cached EventResponse
	if s.getCache(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	response, err := s.toResponse(ctx, event)
	if err != nil {
		return nil, err
	}

	s.setCache(ctx, cacheKey, response, cache.TTLEventDetail)
	return response, nil
}

func (s *service) GetAllEvents(ctx context.Context, query EventListQuery) (*PaginatedEvents, error) {
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 10
	}

	cacheKey := cache.EventListKey(query.Page, query.Limit, query.Search, query.Status, query.OrganizerID, query.DateFrom, query.DateTo)
	var cached PaginatedEvents
	if s.getCache(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	events, totalCount, err := s.repo.GetAll(ctx, query)
	if err != nil {
		return nil, err
	}

	responses := make([]EventResponse, 0, len(events))
	for i := range events {
		response, err := s.toResponse(ctx, &events[i])
		if err != nil {
			return nil, err
		}
		responses = append(responses, *response)
	}

	result := &PaginatedEvents{
		Events:     responses,
		TotalCount: totalCount,
		Page:       query.Page,
		Limit:      query.Limit,
		TotalPages: int(math.Ceil(float64(totalCount) / float64(query.Limit))),
	}

	s.setCache(ctx, cacheKey, result, cache.TTLEventList)
	return result, nil
}

func (s *service) UpdateEvent(ctx context.Context, id string, actor Actor, req UpdateEventRequest) (*EventResponse, error) {
	if _, err := s.getManaged(ctx, id, actor); err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.Title != nil {
		updates["title"] = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Venue != nil {
		updates["venue"] = *req.Venue
	}
	if req.StartsAt != nil {
		if req.StartsAt.Before(s.clock.Now()) {
			return nil, errs.Validation("event start must be in the future")
		}
		updates["starts_at"] = req.StartsAt.UTC()
	}
	if len(updates) == 0 {
		return nil, errs.Validation("no fields to update")
	}
	updates["updated_at"] = s.clock.Now()

	updated, err := s.repo.Update(ctx, id, updates)
	if err != nil {
		return nil, err
	}

	s.invalidateEventCache(ctx, id)
	s.notifyCatalog(ctx, notifications.EventUpdated, updated)
	return s.toResponse(ctx, updated)
}

func (s *service) PublishEvent(ctx context.Context, id string, actor Actor) (*EventResponse, error) {
	event, err := s.getManaged(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !event.Status.CanBePublished() {
		return nil, errs.Conflict(fmt.Sprintf("event %s is already %s", id, event.Status))
	}

	published, err := s.repo.Update(ctx, id, map[string]interface{}{
		"status":     StatusPublished,
		"updated_at": s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	s.invalidateEventCache(ctx, id)
	s.notifyCatalog(ctx, notifications.EventPublished, published)
	return s.toResponse(ctx, published)
}

// DeleteEvent cancels every in-flight reservation of the event, removes its
// seats and then the event itself
func (s *service) DeleteEvent(ctx context.Context, id string, actor Actor) error {
	event, err := s.getManaged(ctx, id, actor)
	if err != nil {
		return err
	}

	cancelled, err := s.ledger.CancelByEvent(ctx, id)
	if err != nil {
		return errs.Wrap(err, "cancel event reservations")
	}

	removed, err := s.inventory.DeleteEventSeats(ctx, id)
	if err != nil {
		return err
	}

	// Holds taken between the first cancel and the seat delete left Pending rows behind
	late, err := s.ledger.CancelByEvent(ctx, id)
	if err != nil {
		return errs.Wrap(err, "cancel event reservations")
	}
	cancelled += late

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidateEventCache(ctx, id)
	s.logger.InfoWithContext(ctx, "Event deleted", map[string]interface{}{
		"event_id":               id,
		"reservations_cancelled": cancelled,
		"seats_removed":          removed,
	})
	s.notifier.Notify(ctx, notifications.NewEvent(notifications.EventDeleted, id, notifications.CatalogEventPayload{
		EventID: id,
		Title:   event.Title,
	}).ToAll())
	return nil
}

//  SCENARIOS AND SEATS

// CreateScenario provisions the default grid: rows A..E by columns 1..10,
// the first two rows VIP
func (s *service) CreateScenario(ctx context.Context, eventID string, actor Actor, req CreateScenarioRequest) (*ScenarioResponse, error) {
	if _, err := s.getManaged(ctx, eventID, actor); err != nil {
		return nil, err
	}

	scenario := &Scenario{
		ID:      uuid.NewString(),
		EventID: eventID,
		Name:    strings.TrimSpace(req.Name),
	}
	if err := s.repo.CreateScenario(ctx, scenario); err != nil {
		return nil, err
	}

	provisioned, err := s.inventory.ProvisionSeats(ctx, eventID, scenario.ID, defaultGrid())
	if err != nil {
		return nil, errs.Wrap(err, "provision scenario grid")
	}

	s.invalidateEventCache(ctx, eventID)
	return &ScenarioResponse{
		ID:        scenario.ID,
		EventID:   eventID,
		Name:      scenario.Name,
		SeatCount: len(provisioned),
		CreatedAt: scenario.CreatedAt,
	}, nil
}

// AddSeats appends seats coded "<category>-<n>", continuing the numbering
// already used in the scenario for that category
func (s *service) AddSeats(ctx context.Context, scenarioID string, actor Actor, req AddSeatsRequest) (*SeatChangeResponse, error) {
	if req.Count <= 0 {
		return nil, errs.Validation("count must be positive")
	}
	if req.Price < 0 {
		return nil, errs.Validation("price must not be negative")
	}
	scenario, _, err := s.getManagedScenario(ctx, scenarioID, actor)
	if err != nil {
		return nil, err
	}

	existing, err := s.inventory.GetScenarioSeats(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	category := strings.TrimSpace(req.Category)
	next, position := 1, 0
	for _, seat := range existing {
		if n, ok := codeNumber(seat.Code, category); ok && n >= next {
			next = n + 1
		}
		if seat.Position >= position {
			position = seat.Position + 1
		}
	}

	specs := make([]seats.SeatSpec, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		specs = append(specs, seats.SeatSpec{
			Code:     fmt.Sprintf("%s-%d", category, next+i),
			Category: category,
			Price:    req.Price,
			Position: position + i,
		})
	}

	provisioned, err := s.inventory.ProvisionSeats(ctx, scenario.EventID, scenarioID, specs)
	if err != nil {
		return nil, err
	}

	s.invalidateEventCache(ctx, scenario.EventID)
	ids := make([]string, 0, len(provisioned))
	for _, seat := range provisioned {
		ids = append(ids, seat.ID)
	}
	return &SeatChangeResponse{ScenarioID: scenarioID, SeatIDs: ids, Count: len(ids)}, nil
}

// RemoveSeats deletes the last count seats of the scenario in seat-map order.
// Each removal force-releases the reservations holding the seat first.
func (s *service) RemoveSeats(ctx context.Context, scenarioID string, actor Actor, count int) (*SeatChangeResponse, error) {
	if count <= 0 {
		return nil, errs.Validation("count must be positive")
	}
	scenario, _, err := s.getManagedScenario(ctx, scenarioID, actor)
	if err != nil {
		return nil, err
	}

	existing, err := s.inventory.GetScenarioSeats(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(existing, func(i, j int) bool {
		if existing[i].Position != existing[j].Position {
			return existing[i].Position > existing[j].Position
		}
		return existing[i].Code > existing[j].Code
	})
	if count > len(existing) {
		count = len(existing)
	}

	removed := make([]string, 0, count)
	defer s.invalidateEventCache(ctx, scenario.EventID)
	for _, seat := range existing[:count] {
		if err := s.inventory.DeleteSeat(ctx, seat.ID); err != nil {
			if errs.Is(err, errs.ErrNotFound) {
				continue
			}
			return &SeatChangeResponse{ScenarioID: scenarioID, SeatIDs: removed, Count: len(removed)}, err
		}
		removed = append(removed, seat.ID)
	}

	return &SeatChangeResponse{ScenarioID: scenarioID, SeatIDs: removed, Count: len(removed)}, nil
}

func (s *service) DeleteSeat(ctx context.Context, seatID string, actor Actor) error {
	seat, err := s.inventory.GetSeat(ctx, seatID)
	if err != nil {
		return err
	}
	if _, err := s.getManaged(ctx, seat.EventID, actor); err != nil {
		return err
	}

	if err := s.inventory.DeleteSeat(ctx, seatID); err != nil {
		return err
	}
	s.invalidateEventCache(ctx, seat.EventID)
	return nil
}

func defaultGrid() []seats.SeatSpec {
	specs := make([]seats.SeatSpec, 0, gridRows*gridCols)
	for r := 0; r < gridRows; r++ {
		category, price := "GENERAL", float64(generalPrice)
		if r < vipRows {
			category, price = "VIP", float64(vipPrice)
		}
		for c := 1; c <= gridCols; c++ {
			specs = append(specs, seats.SeatSpec{
				Code:     fmt.Sprintf("%c%d", 'A'+r, c),
				Category: category,
				Price:    price,
				Position: r*gridCols + c - 1,
			})
		}
	}
	return specs
}

func seatTypeSpecs(types []SeatTypeRequest) ([]seats.SeatSpec, error) {
	specs := make([]seats.SeatSpec, 0)
	seen := make(map[string]struct{}, len(types))
	for _, t := range types {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, errs.Validation("seat type name is required")
		}
		if _, dup := seen[name]; dup {
			return nil, errs.Validation("seat type %q listed twice", name)
		}
		seen[name] = struct{}{}
		for i := 1; i <= t.Quantity; i++ {
			specs = append(specs, seats.SeatSpec{
				Code:     fmt.Sprintf("%s-%d", name, i),
				Category: name,
				Price:    t.Price,
				Position: len(specs),
			})
		}
	}
	return specs, nil
}

func codeNumber(code, category string) (int, bool) {
	rest, ok := strings.CutPrefix(code, category+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	return n, err == nil
}
