package database

import (
	"gorm.io/gorm"
)

var constraintStatements = []string{
	// A held seat always names its owner and deadline; any other state carries neither
	`DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'seats_hold_fields_consistent') THEN
		ALTER TABLE seats ADD CONSTRAINT seats_hold_fields_consistent CHECK (
			(state = 'HELD' AND hold_owner IS NOT NULL AND hold_expires_at IS NOT NULL)
			OR (state <> 'HELD' AND hold_owner IS NULL AND hold_expires_at IS NULL)
		);
	END IF;
END $$;`,

	// The sweeper only ever scans held seats by deadline
	`CREATE INDEX IF NOT EXISTS idx_seats_held_expiry
		ON seats (hold_expires_at) WHERE state = 'HELD';`,

	`CREATE INDEX IF NOT EXISTS idx_reservations_pending_event
		ON reservations (event_id) WHERE status = 'PENDING';`,
}

// MigrateConstraints adds the constraints and partial indexes AutoMigrate cannot express
func MigrateConstraints(db *gorm.DB) error {
	for _, stmt := range constraintStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
