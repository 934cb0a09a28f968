package models

import (
	"os"
	"strings"

	"github.com/mmdatafocus/reservations_backend/config"
	"github.com/sirupsen/logrus"
)

// OpenStore connects the store selected by STORE_DRIVER. The mysql driver
// blocks until the database answers and runs AutoMigrate unless SKIP_MIGRATIONS=true.
func OpenStore(logger *logrus.Logger) (Store, error) {
	if config.StoreDriver() == "memory" {
		logger.WithFields(logrus.Fields{"field": "store"}).Warn("STORE_DRIVER=memory; bookings are not persisted")
		return NewMemoryStore(), nil
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	// AutoMigrate can run DDL that blocks tables; run it as a separate job in production.
	if strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	} else if err := MigrateTable(db); err != nil {
		return nil, err
	}
	return NewGormStore(db), nil
}
