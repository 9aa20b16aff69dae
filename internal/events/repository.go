package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"seatreserve/pkg/errs"
)

type Repository interface {
	Create(ctx context.Context, event *Event) error
	GetByID(ctx context.Context, id string) (*Event, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) (*Event, error)
	Delete(ctx context.Context, id string) error
	GetAll(ctx context.Context, query EventListQuery) ([]Event, int64, error)

	CreateScenario(ctx context.Context, scenario *Scenario) error
	GetScenario(ctx context.Context, id string) (*Scenario, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, event *Event) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*Event, error) {
	var event Event
	err := r.db.WithContext(ctx).
		Preload("Scenarios", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("event %s not found", id)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

func (r *repository) Update(ctx context.Context, id string, updates map[string]interface{}) (*Event, error) {
	res := r.db.WithContext(ctx).Model(&Event{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errs.NotFound("event %s not found", id)
	}
	return r.GetByID(ctx, id)
}

func (r *repository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", id).Delete(&Scenario{}).Error; err != nil {
			return fmt.Errorf("failed to delete scenarios: %w", err)
		}

		res := tx.Where("id = ?", id).Delete(&Event{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.NotFound("event %s not found", id)
		}
		return nil
	})
}

func (r *repository) GetAll(ctx context.Context, query EventListQuery) ([]Event, int64, error) {
	var events []Event
	var totalCount int64

	db := r.db.WithContext(ctx).Model(&Event{})

	if query.Search != "" {
		searchTerm := "%" + strings.ToLower(query.Search) + "%"
		db = db.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(venue) LIKE ?",
			searchTerm, searchTerm, searchTerm)
	}
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.OrganizerID != "" {
		db = db.Where("organizer_id = ?", query.OrganizerID)
	}

	if from, ok := parseDay(query.DateFrom); ok {
		db = db.Where("starts_at >= ?", from)
	}
	if to, ok := parseDay(query.DateTo); ok {
		// Include the entire day
		db = db.Where("starts_at < ?", to.Add(24*time.Hour))
	}

	if err := db.Count(&totalCount).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	offset := (query.Page - 1) * query.Limit
	err := db.Preload("Scenarios", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Order("starts_at ASC").
		Offset(offset).
		Limit(query.Limit).
		Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}

	return events, totalCount, nil
}

// SCENARIOS

func (r *repository) CreateScenario(ctx context.Context, scenario *Scenario) error {
	if err := r.db.WithContext(ctx).Create(scenario).Error; err != nil {
		return fmt.Errorf("failed to create scenario: %w", err)
	}
	return nil
}

func (r *repository) GetScenario(ctx context.Context, id string) (*Scenario, error) {
	var scenario Scenario
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&scenario).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("scenario %s not found", id)
		}
		return nil, fmt.Errorf("failed to get scenario: %w", err)
	}
	return &scenario, nil
}

func parseDay(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	return t, err == nil
}
