package models

import "gorm.io/gorm"

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Booking{}, &BookingRoom{},
		&Payment{},
		&BookingConfirmation{},
		&BookingLog{},
		&IdempotencyKey{},
	)
}
