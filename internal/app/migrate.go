package app

import (
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

// AutoMigrate 自动建表, 生产环境由索引写入方管理表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(model.AllModels()...)
}
