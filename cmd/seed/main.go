package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"seatreserve/internal/events"
	"seatreserve/internal/notifications"
	"seatreserve/internal/reservations"
	"seatreserve/internal/seats"
	"seatreserve/internal/shared/config"
	"seatreserve/internal/shared/database"
	"seatreserve/pkg/logger"
)

const (
	demoOrganizer = "organizer-demo"
	demoBuyer     = "user-demo"
)

type Seeder struct {
	db      *database.DB
	catalog events.Service
	ledger  reservations.Service
}

func main() {
	fmt.Println("🌱 Starting SeatReserve Database Seeder...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Store.Driver != "postgres" {
		log.Fatalf("Seeding requires STORE_DRIVER=postgres, got %q", cfg.Store.Driver)
	}

	l := logger.New(cfg.LogLevel)
	db, err := database.InitDB(cfg, l)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	inventory := seats.NewService(seats.NewRepository(db.PostgreSQL), notifications.Nop{}, l)
	ledger := reservations.NewService(reservations.NewRepository(db.PostgreSQL), inventory, notifications.Nop{}, l)
	inventory.SetReservationHooks(ledger, ledger)

	seeder := &Seeder{
		db:      db,
		catalog: events.NewService(events.NewRepository(db.PostgreSQL), inventory, ledger, notifications.Nop{}, l),
		ledger:  ledger,
	}

	fmt.Println("\n🧹 Cleaning database...")
	if err := seeder.CleanDatabase(); err != nil {
		log.Fatalf("Failed to clean database: %v", err)
	}
	fmt.Println("✅ Database cleaned successfully")

	fmt.Println("\n🌱 Seeding database...")
	if err := seeder.SeedAll(context.Background()); err != nil {
		log.Fatalf("Failed to seed database: %v", err)
	}
	fmt.Println("✅ Database seeded successfully")

	fmt.Println("\n🎉 Seeding completed! Database is ready for testing.")
}

// CleanDatabase truncates every table the seeder writes to
func (s *Seeder) CleanDatabase() error {
	return s.db.PostgreSQL.Exec(
		"TRUNCATE TABLE reservation_seats, reservations, seats, scenarios, events RESTART IDENTITY CASCADE",
	).Error
}

func (s *Seeder) SeedAll(ctx context.Context) error {
	organizer := events.Actor{UserID: demoOrganizer}

	concert, err := s.catalog.CreateEvent(ctx, organizer, events.CreateEventRequest{
		Title:       "Symphony Under the Stars",
		Description: "An evening of classical favourites in the open air",
		Venue:       "Riverside Amphitheatre",
		StartsAt:    time.Now().Add(30 * 24 * time.Hour).UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to create concert: %w", err)
	}
	floor, err := s.catalog.CreateScenario(ctx, concert.ID, organizer, events.CreateScenarioRequest{Name: "Main Floor"})
	if err != nil {
		return fmt.Errorf("failed to create scenario: %w", err)
	}
	if _, err := s.catalog.AddSeats(ctx, floor.ID, organizer, events.AddSeatsRequest{Count: 10, Category: "BALCONY", Price: 15}); err != nil {
		return fmt.Errorf("failed to add balcony seats: %w", err)
	}
	if _, err := s.catalog.PublishEvent(ctx, concert.ID, organizer); err != nil {
		return fmt.Errorf("failed to publish concert: %w", err)
	}
	fmt.Printf("  🎻 %s (%s)\n", concert.Title, concert.ID)

	match, err := s.catalog.CreateEvent(ctx, organizer, events.CreateEventRequest{
		Title:    "Derby Day",
		Venue:    "City Stadium",
		StartsAt: time.Now().Add(14 * 24 * time.Hour).UTC(),
		SeatTypes: []events.SeatTypeRequest{
			{Name: "BOX", Quantity: 8, Price: 120},
			{Name: "STAND", Quantity: 40, Price: 35},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}
	if _, err := s.catalog.PublishEvent(ctx, match.ID, organizer); err != nil {
		return fmt.Errorf("failed to publish match: %w", err)
	}
	fmt.Printf("  ⚽ %s (%s)\n", match.Title, match.ID)

	draft, err := s.catalog.CreateEvent(ctx, organizer, events.CreateEventRequest{
		Title:    "Poetry Night (draft)",
		Venue:    "Back Room",
		StartsAt: time.Now().Add(60 * 24 * time.Hour).UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to create draft: %w", err)
	}
	fmt.Printf("  📝 %s (%s)\n", draft.Title, draft.ID)

	return s.seedReservation(ctx, concert.ID, floor.ID)
}

// seedReservation leaves one confirmed reservation so the seat map is not empty
func (s *Seeder) seedReservation(ctx context.Context, eventID, scenarioID string) error {
	seatIDs, err := s.scenarioSeats(ctx, scenarioID)
	if err != nil {
		return err
	}
	if len(seatIDs) == 0 {
		return nil
	}

	reservationID := reservations.NewReservationID()
	for _, seatID := range seatIDs {
		if _, err := s.ledger.Hold(ctx, reservations.HoldCommand{
			ReservationID: reservationID,
			OwnerID:       demoBuyer,
			ScenarioID:    scenarioID,
			SeatID:        seatID,
		}); err != nil {
			return fmt.Errorf("failed to hold seat %s: %w", seatID, err)
		}
	}
	if _, err := s.ledger.Confirm(ctx, reservationID, demoBuyer, nil); err != nil {
		return fmt.Errorf("failed to confirm reservation: %w", err)
	}
	fmt.Printf("  🎟️  Confirmed reservation %s for %s at %s\n", reservationID, demoBuyer, eventID)
	return nil
}

func (s *Seeder) scenarioSeats(ctx context.Context, scenarioID string) ([]string, error) {
	var ids []string
	err := s.db.PostgreSQL.WithContext(ctx).
		Model(&seats.Seat{}).
		Where("scenario_id = ?", scenarioID).
		Order("position ASC").
		Limit(2).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list seats: %w", err)
	}
	return ids, nil
}
