// Package handler 提供 futurerent-chain 的 gRPC 处理器
package handler

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/futurerent/futurerent-chain/internal/inco"
	"github.com/futurerent/futurerent-chain/internal/metrics"
	"github.com/futurerent/futurerent-chain/internal/model"
	"github.com/futurerent/futurerent-chain/internal/repository"
	"github.com/futurerent/futurerent-chain/internal/service"
	"github.com/futurerent/futurerent-chain/pkg/logger"
)

// AdminHandler gRPC 处理器，承载收益申报与同步管理接口
type AdminHandler struct {
	payoutSvc  *service.PayoutService
	indexerSvc *service.IndexerService
}

// NewAdminHandler 创建处理器
func NewAdminHandler(payoutSvc *service.PayoutService, indexerSvc *service.IndexerService) *AdminHandler {
	return &AdminHandler{
		payoutSvc:  payoutSvc,
		indexerSvc: indexerSvc,
	}
}

// SubmitIncomeRequest 收益申报请求
type SubmitIncomeRequest struct {
	AssetID        int64  `json:"asset_id"`
	Period         string `json:"period"`
	IncomeAmount   string `json:"income_amount"`
	InvestorShare  string `json:"investor_share"`
	OwnerShare     string `json:"owner_share"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SubmitIncomeResponse 收益申报响应
type SubmitIncomeResponse struct {
	RowID      string `json:"row_id"`
	Status     string `json:"status"`
	ProofID    string `json:"proof_id"`
	Commitment string `json:"commitment"`
	TxHash     string `json:"tx_hash"`
}

// SubmissionResponse 结算记录响应
type SubmissionResponse struct {
	ID            string `json:"id"`
	AssetID       int64  `json:"asset_id"`
	Period        string `json:"period"`
	IncomeAmount  string `json:"income_amount"`
	InvestorShare string `json:"investor_share"`
	OwnerShare    string `json:"owner_share"`
	Status        int32  `json:"status"`
	StatusText    string `json:"status_text"`
	ProofID       string `json:"proof_id"`
	Commitment    string `json:"commitment"`
	TxHash        string `json:"tx_hash"`
	LastError     string `json:"last_error"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// SyncResponse 同步结果响应
type SyncResponse struct {
	Scanned int `json:"scanned"`
	Added   int `json:"added"`
}

// InvestmentResponse 投资记录响应
type InvestmentResponse struct {
	TokenID        int64  `json:"token_id"`
	Investor       string `json:"investor"`
	SharePercent   int64  `json:"share_percent"`
	InvestedAmount string `json:"invested_amount"`
	Timestamp      int64  `json:"timestamp"`
	CreatedAt      int64  `json:"created_at"`
}

// SubmitIncome 发起一次收益结算
func (h *AdminHandler) SubmitIncome(ctx context.Context, req *SubmitIncomeRequest) (*SubmitIncomeResponse, error) {
	incomeAmount, err := parseAmount(req.IncomeAmount)
	if err != nil {
		return nil, h.finish("SubmitIncome", status.Error(codes.InvalidArgument, "invalid income_amount"))
	}
	investorShare, err := parseAmount(req.InvestorShare)
	if err != nil {
		return nil, h.finish("SubmitIncome", status.Error(codes.InvalidArgument, "invalid investor_share"))
	}
	ownerShare, err := parseAmount(req.OwnerShare)
	if err != nil {
		return nil, h.finish("SubmitIncome", status.Error(codes.InvalidArgument, "invalid owner_share"))
	}

	result, err := h.payoutSvc.SubmitIncome(ctx, &service.SubmitIncomeRequest{
		AssetID:        req.AssetID,
		Period:         req.Period,
		IncomeAmount:   incomeAmount,
		InvestorShare:  investorShare,
		OwnerShare:     ownerShare,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, h.finish("SubmitIncome", mapServiceError(err))
	}

	h.finish("SubmitIncome", nil)
	return &SubmitIncomeResponse{
		RowID:      result.ID,
		Status:     result.Status.String(),
		ProofID:    result.ProofID,
		Commitment: result.Commitment,
		TxHash:     result.TxHash,
	}, nil
}

// GetSubmission 查询单笔结算记录
func (h *AdminHandler) GetSubmission(ctx context.Context, id string) (*SubmissionResponse, error) {
	if id == "" {
		return nil, h.finish("GetSubmission", status.Error(codes.InvalidArgument, "id is required"))
	}

	sub, err := h.payoutSvc.GetSubmission(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, h.finish("GetSubmission", status.Error(codes.NotFound, "submission not found"))
		}
		logger.Error("failed to get submission", zap.String("id", id), zap.Error(err))
		return nil, h.finish("GetSubmission", status.Error(codes.Internal, "internal error"))
	}

	h.finish("GetSubmission", nil)
	return toSubmissionResponse(sub), nil
}

// ListSubmissions 分页查询结算记录，statusFilter < 0 时不过滤
func (h *AdminHandler) ListSubmissions(ctx context.Context, statusFilter int32, page, pageSize int) ([]*SubmissionResponse, error) {
	var filter *model.SubmissionStatus
	if statusFilter >= 0 {
		s := model.SubmissionStatus(statusFilter)
		filter = &s
	}

	subs, err := h.payoutSvc.ListSubmissions(ctx, filter, &repository.Pagination{
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		logger.Error("failed to list submissions", zap.Error(err))
		return nil, h.finish("ListSubmissions", status.Error(codes.Internal, "internal error"))
	}

	out := make([]*SubmissionResponse, len(subs))
	for i, sub := range subs {
		out[i] = toSubmissionResponse(sub)
	}
	h.finish("ListSubmissions", nil)
	return out, nil
}

// TriggerSync 触发全量历史同步
func (h *AdminHandler) TriggerSync(ctx context.Context) (*SyncResponse, error) {
	result, err := h.indexerSvc.SyncPastEvents(ctx)
	if err != nil {
		logger.Error("historical sync failed", zap.Error(err))
		return nil, h.finish("TriggerSync", status.Error(codes.Unavailable, err.Error()))
	}

	h.finish("TriggerSync", nil)
	return &SyncResponse{Scanned: result.Scanned, Added: result.Added}, nil
}

// TriggerResync 触发定向重同步。tokenID <= 0 与空 investor 视为未给定。
func (h *AdminHandler) TriggerResync(ctx context.Context, tokenID int64, investor string) (*SyncResponse, error) {
	filter := &service.ResyncFilter{}
	if tokenID > 0 {
		filter.TokenID = &tokenID
	}
	if investor != "" {
		filter.Investor = &investor
	}

	result, err := h.indexerSvc.Resync(ctx, filter)
	if err != nil {
		logger.Error("targeted resync failed",
			zap.Int64("token_id", tokenID),
			zap.String("investor", investor),
			zap.Error(err))
		return nil, h.finish("TriggerResync", status.Error(codes.Unavailable, err.Error()))
	}

	h.finish("TriggerResync", nil)
	return &SyncResponse{Scanned: result.Scanned, Added: result.Added}, nil
}

// DeleteInvestment 删除单条投资记录
func (h *AdminHandler) DeleteInvestment(ctx context.Context, tokenID int64, investor string) error {
	if tokenID <= 0 || investor == "" {
		return h.finish("DeleteInvestment", status.Error(codes.InvalidArgument, "token_id and investor are required"))
	}

	deleted, err := h.indexerSvc.DeleteInvestment(ctx, tokenID, investor)
	if err != nil {
		logger.Error("failed to delete investment", zap.Error(err))
		return h.finish("DeleteInvestment", status.Error(codes.Internal, "internal error"))
	}
	if deleted == 0 {
		return h.finish("DeleteInvestment", status.Error(codes.NotFound, "investment not found"))
	}

	return h.finish("DeleteInvestment", nil)
}

// ListInvestments 查询投资记录，investor 为空时返回全部
func (h *AdminHandler) ListInvestments(ctx context.Context, investor string) ([]*InvestmentResponse, error) {
	investments, err := h.indexerSvc.ListInvestments(ctx, investor)
	if err != nil {
		logger.Error("failed to list investments", zap.Error(err))
		return nil, h.finish("ListInvestments", status.Error(codes.Internal, "internal error"))
	}

	out := make([]*InvestmentResponse, len(investments))
	for i, inv := range investments {
		out[i] = &InvestmentResponse{
			TokenID:        inv.TokenID,
			Investor:       inv.Investor,
			SharePercent:   inv.SharePercent,
			InvestedAmount: inv.InvestedAmount.String(),
			Timestamp:      inv.Timestamp,
			CreatedAt:      inv.CreatedAt,
		}
	}
	h.finish("ListInvestments", nil)
	return out, nil
}

// finish 记录请求指标并原样返回错误
func (h *AdminHandler) finish(method string, err error) error {
	metrics.RecordGRPCRequest(method, status.Code(err).String())
	return err
}

// mapServiceError 将业务错误映射为 gRPC 状态码。
// 调用方需要能区分 "稍后重试" 与 "修正请求" 两类失败。
func mapServiceError(err error) error {
	switch {
	case service.IsValidationError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, inco.ErrCircuitOpen):
		return status.Error(codes.Unavailable, err.Error())
	case inco.IsTransient(err):
		return status.Error(codes.Unavailable, err.Error())
	case inco.IsPermanent(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrComputeRejected):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func toSubmissionResponse(sub *model.IncomeSubmission) *SubmissionResponse {
	return &SubmissionResponse{
		ID:            sub.ID,
		AssetID:       sub.AssetID,
		Period:        sub.Period,
		IncomeAmount:  sub.IncomeAmount.String(),
		InvestorShare: sub.InvestorShare.String(),
		OwnerShare:    sub.OwnerShare.String(),
		Status:        int32(sub.Status),
		StatusText:    sub.Status.String(),
		ProofID:       sub.ProofID,
		Commitment:    sub.Commitment,
		TxHash:        sub.TxHash,
		LastError:     sub.LastError,
		CreatedAt:     sub.CreatedAt,
		UpdatedAt:     sub.UpdatedAt,
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
