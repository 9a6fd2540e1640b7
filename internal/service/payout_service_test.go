package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futurerent/futurerent-chain/internal/contract"
	"github.com/futurerent/futurerent-chain/internal/inco"
	"github.com/futurerent/futurerent-chain/internal/model"
	"github.com/futurerent/futurerent-chain/internal/repository"
)

// fakeSubmissionRepo 内存版结算仓储
type fakeSubmissionRepo struct {
	mu      sync.Mutex
	records map[string]*model.IncomeSubmission
	upserts int
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{records: make(map[string]*model.IncomeSubmission)}
}

func (f *fakeSubmissionRepo) Upsert(ctx context.Context, sub *model.IncomeSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *sub
	f.records[sub.ID] = &copied
	f.upserts++
	return nil
}

func (f *fakeSubmissionRepo) GetByID(ctx context.Context, id string) (*model.IncomeSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.records[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (f *fakeSubmissionRepo) List(ctx context.Context, p *repository.Pagination) ([]*model.IncomeSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.IncomeSubmission, 0, len(f.records))
	for _, sub := range f.records {
		copied := *sub
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeSubmissionRepo) ListByStatus(ctx context.Context, status model.SubmissionStatus, p *repository.Pagination) ([]*model.IncomeSubmission, error) {
	all, _ := f.List(ctx, p)
	out := make([]*model.IncomeSubmission, 0)
	for _, sub := range all {
		if sub.Status == status {
			out = append(out, sub)
		}
	}
	return out, nil
}

// fakeComputeClient 按预置序列返回结果
type fakeComputeClient struct {
	mu      sync.Mutex
	calls   int
	results []func() (*inco.ComputeResponse, error)
}

func (f *fakeComputeClient) Compute(ctx context.Context, program string, publicInputs, privateInputs, meta map[string]any) (*inco.ComputeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]()
}

func (f *fakeComputeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLedgerWriter struct {
	mu       sync.Mutex
	requests []*contract.PayoutRequest
	txHash   string
	err      error
}

func (f *fakeLedgerWriter) Submit(ctx context.Context, req *contract.PayoutRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.txHash, nil
}

func validComputeResult() func() (*inco.ComputeResponse, error) {
	return func() (*inco.ComputeResponse, error) {
		return &inco.ComputeResponse{
			Status:       inco.StatusValid,
			ProofID:      "p1",
			PublicOutput: &inco.PublicOutput{Commitment: "0xabc"},
			Proof:        "0xdeadbeef",
		}, nil
	}
}

func transientResult() func() (*inco.ComputeResponse, error) {
	return func() (*inco.ComputeResponse, error) {
		return nil, &inco.TransientError{Message: "server error 502"}
	}
}

func validRequest() *SubmitIncomeRequest {
	return &SubmitIncomeRequest{
		AssetID:       1,
		Period:        "2026-01",
		IncomeAmount:  decimal.NewFromInt(1000),
		InvestorShare: decimal.NewFromInt(60),
		OwnerShare:    decimal.NewFromInt(40),
	}
}

func newTestPayoutService(repo repository.SubmissionRepository, compute ComputeClient, ledger LedgerWriter) *PayoutService {
	return NewPayoutService(repo, compute, ledger, &PayoutServiceConfig{
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	})
}

func TestSubmitIncomeHappyPath(t *testing.T) {
	repo := newFakeSubmissionRepo()
	compute := &fakeComputeClient{results: []func() (*inco.ComputeResponse, error){validComputeResult()}}
	ledger := &fakeLedgerWriter{txHash: "0xtx1"}

	svc := newTestPayoutService(repo, compute, ledger)
	result, err := svc.SubmitIncome(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, "1:2026-01", result.ID)
	assert.Equal(t, model.SubmissionStatusProofSubmitted, result.Status)
	assert.Equal(t, "p1", result.ProofID)
	assert.Equal(t, "0xabc", result.Commitment)
	assert.Equal(t, "0xtx1", result.TxHash)

	stored, err := repo.GetByID(context.Background(), "1:2026-01")
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStatusProofSubmitted, stored.Status)
	assert.Equal(t, "p1", stored.ProofID)
	assert.Equal(t, "0xabc", stored.Commitment)
	assert.Equal(t, "0xtx1", stored.TxHash)
	assert.Empty(t, stored.LastError)
	assert.Len(t, repo.records, 1)

	require.Len(t, ledger.requests, 1)
	assert.Equal(t, int64(1), ledger.requests[0].AssetID)
	assert.Equal(t, "0xabc", ledger.requests[0].Commitment)
}

// TestSubmitIncomeFractionalShares 分成比例支持小数，持久化后不丢精度
func TestSubmitIncomeFractionalShares(t *testing.T) {
	repo := newFakeSubmissionRepo()
	compute := &fakeComputeClient{results: []func() (*inco.ComputeResponse, error){validComputeResult()}}
	svc := newTestPayoutService(repo, compute, &fakeLedgerWriter{txHash: "0xtx1"})

	req := validRequest()
	req.InvestorShare = decimal.RequireFromString("60.5")
	req.OwnerShare = decimal.RequireFromString("39.5")

	_, err := svc.SubmitIncome(context.Background(), req)
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), "1:2026-01")
	require.NoError(t, err)
	assert.True(t, stored.InvestorShare.Equal(decimal.RequireFromString("60.5")))
	assert.True(t, stored.OwnerShare.Equal(decimal.RequireFromString("39.5")))
}

func TestSubmitIncomeValidation(t *testing.T) {
	repo := newFakeSubmissionRepo()
	compute := &fakeComputeClient{results: []func() (*inco.ComputeResponse, error){validComputeResult()}}
	svc := newTestPayoutService(repo, compute, &fakeLedgerWriter{txHash: "0xtx"})

	tests := []struct {
		name   string
		mutate func(*SubmitIncomeRequest)
	}{
		{"missing asset id", func(r *SubmitIncomeRequest) { r.AssetID = 0 }},
		{"missing period", func(r *SubmitIncomeRequest) { r.Period = "" }},
		{"zero income", func(r *SubmitIncomeRequest) { r.IncomeAmount = decimal.Zero }},
		{"negative investor share", func(r *SubmitIncomeRequest) { r.InvestorShare = decimal.NewFromInt(-1) }},
		{"negative owner share", func(r *SubmitIncomeRequest) { r.OwnerShare = decimal.NewFromInt(-1) }},
		{"all shares zero", func(r *SubmitIncomeRequest) {
			r.InvestorShare = decimal.Zero
			r.OwnerShare = decimal.Zero
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			_, err := svc.SubmitIncome(context.Background(), req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}

	// 校验失败不应触发计算，也不应写入任何记录
	assert.Equal(t, 0, compute.callCount())
	assert.Empty(t, repo.records)
}

func TestSubmitIncomeRetriesTransientThenSucceeds(t *testing.T) {
	repo := newFakeSubmissionRepo()
	compute := &fakeComputeClient{results: []func() (*inco.ComputeResponse, error){
		transientResult(),
		transientResult(),
		validComputeResult(),
	}}
	ledger := &fakeLedgerWriter{txHash: "0xtx1"}

	svc := newTestPayoutService(repo, compute, ledger)
	result, err := svc.SubmitIncome(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, 3, compute.callCount())
	assert.Equal(t, model.SubmissionStatusProofSubmitted, result.Status)
}

func TestSubmitIncomeAllTransientAttemptsFail(t *testing.T) {
	repo := newFakeSubmissionRepo()
	compute := &fakeComputeClient{results: []func() (*inco.ComputeResponse, error){transientResult()}}

	svc := newTestPayoutService(repo, compute, &fakeLedgerWriter{txHash: "0xtx"})
	_, err := svc.SubmitIncome(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, inco.IsTransient(err))
	assert.Equal(t, 3, compute.callCount())

	stored, err := repo.GetByID(context.Background(), "1:2026-01")
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.LastError)
}

func TestSubmitIncomePermanentErrorShortCircuits(t *testing.T) {
	repo := newFakeSubmissionRepo()
	compute := &fakeComputeClient{results: []func() (*inco.ComputeResponse, error){
		func() (*inco.ComputeResponse, error) {
			return nil, &inco.PermanentError{StatusCode: 400, Body: "bad request"}
		},
	}}

	svc := newTestPayoutService(repo, compute, &fakeLedgerWriter{txHash: "0xtx"})
	_, err := svc.SubmitIncome(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, inco.IsPermanent(err))
	// 永久错误不消耗剩余重试次数
	assert.Equal(t, 1, compute.callCount())

	stored, _ := repo.GetByID(context.Background(), "1:2026-01")
	assert.Equal(t, model.SubmissionStatusFailed, stored.Status)
}

func TestSubmitIncomeCircuitOpenFailsFast(t *testing.T) {
	repo := newFakeSubmissionRepo()
	compute := &fakeComputeClient{results: []func() (*inco.ComputeResponse, error){
		func() (*inco.ComputeResponse, error) { return nil, inco.ErrCircuitOpen },
	}}

	svc := newTestPayoutService(repo, compute, &fakeLedgerWriter{txHash: "0xtx"})
	_, err := svc.SubmitIncome(context.Background(), validRequest())
	assert.ErrorIs(t, err, inco.ErrCircuitOpen)
	assert.Equal(t, 1, compute.callCount())

	stored, _ := repo.GetByID(context.Background(), "1:2026-01")
	assert.Equal(t, model.SubmissionStatusFailed, stored.Status)
}

func TestSubmitIncomeRejectedComputeStatus(t *testing.T) {
	repo := newFakeSubmissionRepo()
	compute := &fakeComputeClient{results: []func() (*inco.ComputeResponse, error){
		func() (*inco.ComputeResponse, error) {
			return &inco.ComputeResponse{Status: "INVALID"}, nil
		},
	}}

	svc := newTestPayoutService(repo, compute, &fakeLedgerWriter{txHash: "0xtx"})
	_, err := svc.SubmitIncome(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrComputeRejected)

	stored, _ := repo.GetByID(context.Background(), "1:2026-01")
	assert.Equal(t, model.SubmissionStatusFailed, stored.Status)
	assert.Contains(t, stored.LastError, "INVALID")
}

func TestSubmitIncomeLedgerFailure(t *testing.T) {
	repo := newFakeSubmissionRepo()
	compute := &fakeComputeClient{results: []func() (*inco.ComputeResponse, error){validComputeResult()}}
	ledger := &fakeLedgerWriter{err: errors.New("ledger send failed: execution reverted")}

	svc := newTestPayoutService(repo, compute, ledger)
	_, err := svc.SubmitIncome(context.Background(), validRequest())
	require.Error(t, err)

	// 链上失败不重试，记录落 FAILED 并清除证明字段
	assert.Len(t, ledger.requests, 1)
	stored, _ := repo.GetByID(context.Background(), "1:2026-01")
	assert.Equal(t, model.SubmissionStatusFailed, stored.Status)
	assert.Empty(t, stored.ProofID)
	assert.Empty(t, stored.TxHash)
	assert.Contains(t, stored.LastError, "reverted")
}

func TestSubmitIncomeIdempotency(t *testing.T) {
	repo := newFakeSubmissionRepo()
	compute := &fakeComputeClient{results: []func() (*inco.ComputeResponse, error){validComputeResult()}}
	ledger := &fakeLedgerWriter{txHash: "0xtx1"}

	svc := newTestPayoutService(repo, compute, ledger)

	_, err := svc.SubmitIncome(context.Background(), validRequest())
	require.NoError(t, err)

	ledger.txHash = "0xtx2"
	result, err := svc.SubmitIncome(context.Background(), validRequest())
	require.NoError(t, err)

	// 同一幂等键只保留一条记录，内容反映最近一次结果
	assert.Len(t, repo.records, 1)
	assert.Equal(t, "0xtx2", result.TxHash)
	stored, _ := repo.GetByID(context.Background(), "1:2026-01")
	assert.Equal(t, "0xtx2", stored.TxHash)
}

func TestSubmitIncomeCustomIdempotencyKey(t *testing.T) {
	repo := newFakeSubmissionRepo()
	compute := &fakeComputeClient{results: []func() (*inco.ComputeResponse, error){validComputeResult()}}

	svc := newTestPayoutService(repo, compute, &fakeLedgerWriter{txHash: "0xtx"})

	req := validRequest()
	req.IdempotencyKey = "custom-key-1"
	result, err := svc.SubmitIncome(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "custom-key-1", result.ID)

	_, err = repo.GetByID(context.Background(), "custom-key-1")
	assert.NoError(t, err)
}
