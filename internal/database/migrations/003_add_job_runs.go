package migrations

import (
	"github.com/openleague/market-engine/internal/types"
	"gorm.io/gorm"
)

func AddJobRuns(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.JobRun{}); err != nil {
		return err
	}

	return nil
}
