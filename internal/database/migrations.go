package database

import (
	"log"

	"gorm.io/gorm"
)

// RunMigrations runs any custom data migrations after schema changes
func RunMigrations(db *gorm.DB) error {
	if err := normalizeJSONColumns(db); err != nil {
		return err
	}
	return nil
}

// normalizeJSONColumns backfills NULL/empty JSON columns so the Scan
// implementations never see malformed data from rows written by older
// builds.
func normalizeJSONColumns(db *gorm.DB) error {
	if !db.Migrator().HasTable("products") {
		return nil
	}

	result := db.Exec(`UPDATE products SET tags = '[]' WHERE tags IS NULL OR tags = ''`)
	if result.Error != nil {
		log.Printf("Warning: failed to normalize product tags: %v", result.Error)
	}

	result = db.Exec(`UPDATE products SET price_history = '[]' WHERE price_history IS NULL OR price_history = ''`)
	if result.Error != nil {
		log.Printf("Warning: failed to normalize price history: %v", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Printf("Normalized %d product rows with empty price history", result.RowsAffected)
	}

	// Empty-string analysis columns predate the nullable JSON column
	db.Exec(`UPDATE products SET analysis = NULL WHERE analysis = ''`)

	return nil
}
