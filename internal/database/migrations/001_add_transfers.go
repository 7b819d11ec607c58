package migrations

import (
	"github.com/openleague/market-engine/internal/types"
	"gorm.io/gorm"
)

func AddTransfers(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Transfer{}); err != nil {
		return err
	}

	return nil
}
