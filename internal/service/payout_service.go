// Package service 提供 futurerent-chain 的业务逻辑服务
//
// ========================================
// PayoutService 收益结算服务对接说明
// ========================================
//
// ## 功能概述
// PayoutService 负责单笔收益申报的完整结算流程：
//
//	RECEIVED -> PROOF_READY -> PROOF_SUBMITTED
//	                 \-> FAILED (任一步骤失败)
//
// 1. 接收收益申报，校验必填字段，写入 RECEIVED 记录
// 2. 调用 INCO 机密计算生成分配证明 (带重试)
// 3. 将证明提交上链 (PayoutManager 或 OracleVerification 回退路径)
//
// ## 幂等语义
// 同一 (assetId, period) 生成相同幂等键，重复提交以最新一次结果
// 覆盖记录，不产生重复行。FAILED 记录可以通过重新提交发起新一轮结算。
//
// ## INCO 对接
// - 重试仅针对瞬时错误，最多 maxAttempts 次，退避为 attempt × retryBackoff
// - 永久错误与熔断打开立即终止重试，直接写 FAILED
// - 计算结果 status 非 VALID 视为失败
//
// ## 链上对接
// - 链上写入不重试：交易不具备安全的重放语义
// - 写入路径由 contract.PayoutWriter 按合约能力一次性选定
//
// ========================================
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/futurerent/futurerent-chain/internal/contract"
	"github.com/futurerent/futurerent-chain/internal/inco"
	"github.com/futurerent/futurerent-chain/internal/metrics"
	"github.com/futurerent/futurerent-chain/internal/model"
	"github.com/futurerent/futurerent-chain/internal/repository"
	"github.com/futurerent/futurerent-chain/pkg/logger"
)

// ErrComputeRejected INCO 返回了非 VALID 状态
var ErrComputeRejected = errors.New("inco compute returned non-valid status")

// ValidationError 请求缺少必填字段，不会进入结算流程
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return "missing or invalid required field: " + e.Field
}

// IsValidationError 判断错误是否为请求校验错误
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ComputeClient INCO 机密计算客户端接口
type ComputeClient interface {
	Compute(ctx context.Context, program string, publicInputs, privateInputs, meta map[string]any) (*inco.ComputeResponse, error)
}

// LedgerWriter 链上结算写入接口
type LedgerWriter interface {
	Submit(ctx context.Context, req *contract.PayoutRequest) (string, error)
}

// SubmitIncomeRequest 收益申报请求
type SubmitIncomeRequest struct {
	AssetID        int64
	Period         string
	IncomeAmount   decimal.Decimal
	InvestorShare  decimal.Decimal
	OwnerShare     decimal.Decimal
	IdempotencyKey string
}

// SubmitIncomeResult 结算结果
type SubmitIncomeResult struct {
	ID         string
	Status     model.SubmissionStatus
	ProofID    string
	Commitment string
	TxHash     string
}

// PayoutService 收益结算服务
type PayoutService struct {
	repo    repository.SubmissionRepository
	compute ComputeClient
	ledger  LedgerWriter

	// 配置
	program      string
	maxAttempts  int
	retryBackoff time.Duration
}

// PayoutServiceConfig 配置
type PayoutServiceConfig struct {
	Program      string
	MaxAttempts  int
	RetryBackoff time.Duration
}

// NewPayoutService 创建收益结算服务
func NewPayoutService(
	repo repository.SubmissionRepository,
	compute ComputeClient,
	ledger LedgerWriter,
	cfg *PayoutServiceConfig,
) *PayoutService {
	program := cfg.Program
	if program == "" {
		program = "futureRentPayoutLogic_v1"
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 500 * time.Millisecond
	}

	return &PayoutService{
		repo:         repo,
		compute:      compute,
		ledger:       ledger,
		program:      program,
		maxAttempts:  maxAttempts,
		retryBackoff: retryBackoff,
	}
}

// SubmitIncome 执行一次收益结算。
// 所有失败路径都会把记录落在终态 (FAILED)，不会留下悬挂的中间状态。
func (s *PayoutService) SubmitIncome(ctx context.Context, req *SubmitIncomeRequest) (*SubmitIncomeResult, error) {
	if err := validateSubmitRequest(req); err != nil {
		return nil, err
	}

	id := req.IdempotencyKey
	if id == "" {
		id = model.SubmissionKey(req.AssetID, req.Period)
	}

	record := &model.IncomeSubmission{
		ID:            id,
		AssetID:       req.AssetID,
		Period:        req.Period,
		IncomeAmount:  req.IncomeAmount,
		InvestorShare: req.InvestorShare,
		OwnerShare:    req.OwnerShare,
		Status:        model.SubmissionStatusReceived,
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, err
	}

	logger.Info("income submission received",
		zap.String("id", id),
		zap.Int64("asset_id", req.AssetID),
		zap.String("period", req.Period))

	resp, err := s.computeProof(ctx, req)
	if err != nil {
		s.markFailed(ctx, record, err)
		return nil, err
	}

	record.Status = model.SubmissionStatusProofReady
	record.ProofID = resp.ProofID
	record.Commitment = resp.Commitment()
	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, err
	}

	txHash, err := s.submitOnchain(ctx, req, resp)
	if err != nil {
		s.markFailed(ctx, record, err)
		return nil, err
	}

	record.Status = model.SubmissionStatusProofSubmitted
	record.TxHash = txHash
	record.LastError = ""
	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, err
	}

	logger.Info("income settlement submitted on-chain",
		zap.String("id", id),
		zap.String("proof_id", record.ProofID),
		zap.String("tx_hash", txHash))

	return &SubmitIncomeResult{
		ID:         id,
		Status:     record.Status,
		ProofID:    record.ProofID,
		Commitment: record.Commitment,
		TxHash:     txHash,
	}, nil
}

// GetSubmission 查询单笔结算记录
func (s *PayoutService) GetSubmission(ctx context.Context, id string) (*model.IncomeSubmission, error) {
	return s.repo.GetByID(ctx, id)
}

// ListSubmissions 分页查询结算记录，status 为 nil 时不过滤
func (s *PayoutService) ListSubmissions(ctx context.Context, status *model.SubmissionStatus, p *repository.Pagination) ([]*model.IncomeSubmission, error) {
	if status != nil {
		return s.repo.ListByStatus(ctx, *status, p)
	}
	return s.repo.List(ctx, p)
}

// computeProof 调用 INCO 计算分配证明，瞬时错误按线性退避重试
func (s *PayoutService) computeProof(ctx context.Context, req *SubmitIncomeRequest) (*inco.ComputeResponse, error) {
	publicInputs := map[string]any{
		"assetId": req.AssetID,
		"period":  req.Period,
	}
	privateInputs := map[string]any{
		"incomeAmount":  req.IncomeAmount.String(),
		"investorShare": req.InvestorShare.String(),
		"ownerShare":    req.OwnerShare.String(),
	}

	var resp *inco.ComputeResponse
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		start := time.Now()
		resp, lastErr = s.compute.Compute(ctx, s.program, publicInputs, privateInputs, nil)
		metrics.RecordIncoCompute(time.Since(start).Seconds())

		if lastErr == nil {
			if resp.Status != inco.StatusValid {
				metrics.RecordIncoFailure("invalid_status")
				return nil, fmt.Errorf("%w: %s", ErrComputeRejected, resp.Status)
			}
			return resp, nil
		}

		if errors.Is(lastErr, inco.ErrCircuitOpen) {
			metrics.RecordIncoFailure("circuit_open")
			return nil, lastErr
		}
		if inco.IsPermanent(lastErr) {
			// 永久错误不消耗剩余重试预算
			metrics.RecordIncoFailure("permanent")
			return nil, lastErr
		}

		metrics.RecordIncoFailure("transient")
		logger.Warn("inco compute attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt < s.maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.retryBackoff):
			}
		}
	}

	return nil, lastErr
}

// submitOnchain 将证明提交上链并等待确认
func (s *PayoutService) submitOnchain(ctx context.Context, req *SubmitIncomeRequest, resp *inco.ComputeResponse) (string, error) {
	start := time.Now()

	txHash, err := s.ledger.Submit(ctx, &contract.PayoutRequest{
		AssetID:      req.AssetID,
		Period:       req.Period,
		IncomeAmount: req.IncomeAmount,
		Proof:        common.FromHex(resp.Proof),
		Commitment:   resp.Commitment(),
	})
	if err != nil {
		metrics.RecordOnchainSubmission("failed", time.Since(start).Seconds())
		return "", err
	}

	metrics.RecordOnchainSubmission("success", time.Since(start).Seconds())
	return txHash, nil
}

// markFailed 将记录落到 FAILED 终态，清除证明与交易字段
func (s *PayoutService) markFailed(ctx context.Context, record *model.IncomeSubmission, cause error) {
	record.Status = model.SubmissionStatusFailed
	record.ProofID = ""
	record.Commitment = ""
	record.TxHash = ""
	record.LastError = cause.Error()

	if err := s.repo.Upsert(ctx, record); err != nil {
		logger.Error("failed to persist FAILED submission",
			zap.String("id", record.ID),
			zap.Error(err))
	}

	logger.Error("income settlement failed",
		zap.String("id", record.ID),
		zap.Error(cause))
}

func validateSubmitRequest(req *SubmitIncomeRequest) error {
	if req.AssetID <= 0 {
		return &ValidationError{Field: "assetId"}
	}
	if req.Period == "" {
		return &ValidationError{Field: "period"}
	}
	if req.IncomeAmount.Sign() <= 0 {
		return &ValidationError{Field: "incomeAmount"}
	}
	if req.InvestorShare.Sign() < 0 {
		return &ValidationError{Field: "investorShare"}
	}
	if req.OwnerShare.Sign() < 0 {
		return &ValidationError{Field: "ownerShare"}
	}
	if req.InvestorShare.Add(req.OwnerShare).Sign() <= 0 {
		return &ValidationError{Field: "investorShare"}
	}
	return nil
}
