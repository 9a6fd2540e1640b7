package app

import (
	"gorm.io/gorm"

	"github.com/futurerent/futurerent-chain/internal/model"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.IncomeSubmission{},
		&model.Investment{},
	)
}
