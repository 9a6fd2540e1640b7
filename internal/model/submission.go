package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SubmissionStatus 收益提交状态
type SubmissionStatus int8

const (
	SubmissionStatusReceived       SubmissionStatus = 0 // 已接收
	SubmissionStatusProofReady     SubmissionStatus = 1 // 证明已生成
	SubmissionStatusProofSubmitted SubmissionStatus = 2 // 证明已上链
	SubmissionStatusFailed         SubmissionStatus = 3 // 失败
)

func (s SubmissionStatus) String() string {
	switch s {
	case SubmissionStatusReceived:
		return "RECEIVED"
	case SubmissionStatusProofReady:
		return "PROOF_READY"
	case SubmissionStatusProofSubmitted:
		return "PROOF_SUBMITTED"
	case SubmissionStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s SubmissionStatus) IsTerminal() bool {
	return s == SubmissionStatusProofSubmitted || s == SubmissionStatusFailed
}

// IncomeSubmission 收益提交记录，id 为幂等键，重复提交覆盖而不新增
type IncomeSubmission struct {
	ID            string           `gorm:"column:id;type:varchar(128);primaryKey" json:"id"`
	AssetID       int64            `gorm:"column:asset_id;type:bigint;index;not null" json:"asset_id"`
	Period        string           `gorm:"column:period;type:varchar(32);not null" json:"period"`
	IncomeAmount  decimal.Decimal  `gorm:"column:income_amount;type:decimal(36,18);not null" json:"income_amount"`
	InvestorShare decimal.Decimal  `gorm:"column:investor_share;type:decimal(36,18);not null" json:"investor_share"`
	OwnerShare    decimal.Decimal  `gorm:"column:owner_share;type:decimal(36,18);not null" json:"owner_share"`
	Status        SubmissionStatus `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	ProofID       string           `gorm:"column:proof_id;type:varchar(128)" json:"proof_id"`
	Commitment    string           `gorm:"column:commitment;type:varchar(256)" json:"commitment"`
	TxHash        string           `gorm:"column:tx_hash;type:varchar(66)" json:"tx_hash"`
	LastError     string           `gorm:"column:last_error;type:varchar(500)" json:"last_error"`
	CreatedAt     int64            `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt     int64            `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (IncomeSubmission) TableName() string {
	return "chain_income_submissions"
}

// SubmissionKey 根据资产和周期推导幂等键
func SubmissionKey(assetID int64, period string) string {
	return fmt.Sprintf("%d:%s", assetID, period)
}
