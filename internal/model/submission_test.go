package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// TestSubmissionStatus_Values 测试状态枚举值
func TestSubmissionStatus_Values(t *testing.T) {
	assert.Equal(t, SubmissionStatus(0), SubmissionStatusReceived)
	assert.Equal(t, SubmissionStatus(1), SubmissionStatusProofReady)
	assert.Equal(t, SubmissionStatus(2), SubmissionStatusProofSubmitted)
	assert.Equal(t, SubmissionStatus(3), SubmissionStatusFailed)
}

// TestSubmissionStatus_String 测试状态字符串表示
func TestSubmissionStatus_String(t *testing.T) {
	assert.Equal(t, "RECEIVED", SubmissionStatusReceived.String())
	assert.Equal(t, "PROOF_READY", SubmissionStatusProofReady.String())
	assert.Equal(t, "PROOF_SUBMITTED", SubmissionStatusProofSubmitted.String())
	assert.Equal(t, "FAILED", SubmissionStatusFailed.String())
	assert.Equal(t, "UNKNOWN", SubmissionStatus(99).String())
}

// TestSubmissionStatus_IsTerminal 测试终态判断
func TestSubmissionStatus_IsTerminal(t *testing.T) {
	assert.False(t, SubmissionStatusReceived.IsTerminal())
	assert.False(t, SubmissionStatusProofReady.IsTerminal())
	assert.True(t, SubmissionStatusProofSubmitted.IsTerminal())
	assert.True(t, SubmissionStatusFailed.IsTerminal())
}

// TestIncomeSubmission_TableName 测试表名
func TestIncomeSubmission_TableName(t *testing.T) {
	assert.Equal(t, "chain_income_submissions", IncomeSubmission{}.TableName())
}

// TestSubmissionKey 测试幂等键推导
func TestSubmissionKey(t *testing.T) {
	assert.Equal(t, "1:2026-01", SubmissionKey(1, "2026-01"))
	assert.Equal(t, "42:2025-12", SubmissionKey(42, "2025-12"))
}

// TestInvestment_TableName 测试表名
func TestInvestment_TableName(t *testing.T) {
	assert.Equal(t, "chain_investments", Investment{}.TableName())
}

// TestIncomeSubmission_Fields 测试字段赋值
func TestIncomeSubmission_Fields(t *testing.T) {
	sub := &IncomeSubmission{
		ID:            "1:2026-01",
		AssetID:       1,
		Period:        "2026-01",
		IncomeAmount:  decimal.NewFromInt(1000),
		InvestorShare: decimal.NewFromInt(60),
		OwnerShare:    decimal.NewFromInt(40),
		Status:        SubmissionStatusProofSubmitted,
		ProofID:       "p1",
		Commitment:    "0xabc",
		TxHash:        "0xdeadbeef",
	}

	assert.Equal(t, "1:2026-01", sub.ID)
	assert.True(t, sub.IncomeAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, sub.InvestorShare.Equal(decimal.NewFromInt(60)))
	assert.True(t, sub.OwnerShare.Equal(decimal.NewFromInt(40)))
	assert.True(t, sub.Status.IsTerminal())
}
