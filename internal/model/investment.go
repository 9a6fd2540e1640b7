package model

import "github.com/shopspring/decimal"

// Investment 链上投资记录，按 (token_id, investor) 去重，后到覆盖先到。
// 表中保存的是每个键的当前已知状态，不是事件日志，重放是安全且收敛的。
type Investment struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TokenID        int64           `gorm:"column:token_id;type:bigint;uniqueIndex:idx_token_investor;not null" json:"token_id"`
	Investor       string          `gorm:"column:investor;type:varchar(42);uniqueIndex:idx_token_investor;not null" json:"investor"`
	SharePercent   int64           `gorm:"column:share_percent;type:bigint;not null" json:"share_percent"`
	InvestedAmount decimal.Decimal `gorm:"column:invested_amount;type:decimal(36,18);not null" json:"invested_amount"`
	Timestamp      int64           `gorm:"column:timestamp;type:bigint;not null" json:"timestamp"`
	CreatedAt      int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt      int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (Investment) TableName() string {
	return "chain_investments"
}
