package database

import (
	"gorm.io/gorm"

	"seatreserve/internal/events"
	"seatreserve/internal/reservations"
	"seatreserve/internal/seats"
)

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&events.Event{},
		&events.Scenario{},
		&seats.Seat{},
		&reservations.Reservation{},
		&reservations.SeatRef{},
	); err != nil {
		return err
	}
	return MigrateConstraints(db)
}
