package migrations

import (
	"gorm.io/gorm"

	"bourse/internal/types"
)

// AddTradeJournal creates the append-only trade journal table.
func AddTradeJournal(db *gorm.DB) error {
	return db.AutoMigrate(&types.Trade{})
}
