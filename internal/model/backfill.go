package model

import (
	"encoding/json"
	"time"
)

// BackfillCursor 所有权扫描的续扫位置, LastUpdatedAt 为空表示首轮
type BackfillCursor struct {
	LastUpdatedAt *time.Time `json:"lastUpdatedAt,omitempty"`
}

// IsZero 是否为首轮游标
func (c BackfillCursor) IsZero() bool {
	return c.LastUpdatedAt == nil
}

// DecodeBackfillCursor 解析队列消息中的游标, 空消息视为首轮
func DecodeBackfillCursor(data []byte) (BackfillCursor, error) {
	var cursor BackfillCursor
	if len(data) == 0 {
		return cursor, nil
	}
	if err := json.Unmarshal(data, &cursor); err != nil {
		return BackfillCursor{}, err
	}
	return cursor, nil
}

// OwnershipChange 最近的所有权变动记录
type OwnershipChange struct {
	Owner        string    `gorm:"column:owner"`
	CollectionID *string   `gorm:"column:collection_id"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// RefreshJob 用户-集合聚合刷新任务
type RefreshJob struct {
	User         string `json:"user"`
	CollectionID string `json:"collectionId"`
}

// Key 分区 key, 同一 (user, collection) 落在同一分区
func (j RefreshJob) Key() string {
	return j.User + ":" + j.CollectionID
}

// ScanParams 所有权变动扫描参数
type ScanParams struct {
	Since    *time.Time    // 包含下界, 为空表示不限
	Limit    int           // 单批上限
	Window   time.Duration // 只看 Now-Window 之后的变动
	Now      time.Time
	Excluded []string // 排除的接收地址 (零地址、销毁地址)
}
