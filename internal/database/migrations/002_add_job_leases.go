package migrations

import (
	"github.com/openleague/market-engine/internal/types"
	"gorm.io/gorm"
)

func AddJobLeases(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.JobLease{}); err != nil {
		return err
	}

	return nil
}
