// ========================================
// IndexerService 投资事件同步服务对接说明
// ========================================
//
// ## 功能概述
// IndexerService 将 InvestmentRegistry 合约的 InvestmentCreated 事件
// 同步到数据库，支持三种模式：
//
// 1. 历史同步 SyncPastEvents: 从创世块扫描到最新块，逐条 upsert
// 2. 实时订阅 Start: 订阅合约事件流，事件到达即入库
// 3. 定向重同步 Resync: 按 tokenId / investor 过滤重扫，
//    先清除可能过期的旧记录再回放
//
// ## 幂等语义
// 所有写入都按 (token_id, investor) 复合键 upsert，同一事件被历史
// 扫描和实时订阅重复观察时收敛为一条记录，后到覆盖先到。
//
// ## 时间戳约定
// - 历史扫描: 取事件所在区块高度
// - 实时订阅: 链上不带时间时取观察时刻
//
// ## 失败语义
// 同步失败直接上抛给触发方 (管理接口或启动流程)，本服务不做自动
// 重试，由运维按需重新触发。
//
// ========================================
package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/futurerent/futurerent-chain/internal/contract"
	"github.com/futurerent/futurerent-chain/internal/metrics"
	"github.com/futurerent/futurerent-chain/internal/model"
	"github.com/futurerent/futurerent-chain/internal/repository"
	"github.com/futurerent/futurerent-chain/pkg/logger"
)

var (
	ErrIndexerAlreadyRunning = errors.New("indexer already running")
	ErrIndexerNotRunning     = errors.New("indexer not running")
)

// EventSource 投资事件来源，由 contract.InvestmentRegistryContract 实现
type EventSource interface {
	FilterInvestmentCreated(ctx context.Context, fromBlock, toBlock *big.Int, investor *common.Address) ([]*contract.InvestmentCreatedEvent, error)
	WatchInvestmentCreated(ctx context.Context, sink chan<- *contract.InvestmentCreatedEvent) (ethereum.Subscription, error)
}

// SyncResult 同步结果统计
type SyncResult struct {
	Scanned int `json:"scanned"`
	Added   int `json:"added"`
}

// ResyncFilter 定向重同步过滤条件，两个维度都可选
type ResyncFilter struct {
	TokenID  *int64
	Investor *string
}

// IndexerService 投资事件同步服务
type IndexerService struct {
	registry EventSource
	repo     repository.InvestmentRepository

	// 运行状态
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewIndexerService 创建投资事件同步服务
func NewIndexerService(registry EventSource, repo repository.InvestmentRepository) *IndexerService {
	return &IndexerService{
		registry: registry,
		repo:     repo,
	}
}

// SyncPastEvents 全量扫描历史 InvestmentCreated 事件并入库
func (s *IndexerService) SyncPastEvents(ctx context.Context) (*SyncResult, error) {
	events, err := s.registry.FilterInvestmentCreated(ctx, big.NewInt(0), nil, nil)
	if err != nil {
		metrics.RecordSyncError()
		return nil, err
	}

	result := &SyncResult{Scanned: len(events)}
	for _, event := range events {
		if err := s.applyEvent(ctx, event, false); err != nil {
			metrics.RecordSyncError()
			return result, err
		}
		metrics.RecordEventSynced("historical")
		result.Added++
	}

	if len(events) > 0 {
		metrics.UpdateLatestSyncedBlock(events[len(events)-1].Raw.BlockNumber)
	}

	logger.Info("historical investment sync completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("added", result.Added))

	return result, nil
}

// Resync 定向重同步。清除语义：
//   - tokenId 和 investor 都给定: 仅删除该组合键的记录
//   - 仅 tokenId: 删除该 token 的所有投资人记录
//   - 仅 investor: 在事件源侧按 investor 过滤，不做预清除
//   - 都未给定: 等同全量重扫，不做预清除
func (s *IndexerService) Resync(ctx context.Context, filter *ResyncFilter) (*SyncResult, error) {
	if filter == nil {
		filter = &ResyncFilter{}
	}

	if filter.TokenID != nil {
		if filter.Investor != nil {
			if _, err := s.repo.DeleteByKey(ctx, *filter.TokenID, *filter.Investor); err != nil {
				return nil, err
			}
		} else {
			if _, err := s.repo.DeleteByTokenID(ctx, *filter.TokenID); err != nil {
				return nil, err
			}
		}
	}

	var investorAddr *common.Address
	if filter.Investor != nil {
		addr := common.HexToAddress(*filter.Investor)
		investorAddr = &addr
	}

	events, err := s.registry.FilterInvestmentCreated(ctx, big.NewInt(0), nil, investorAddr)
	if err != nil {
		metrics.RecordSyncError()
		return nil, err
	}

	result := &SyncResult{Scanned: len(events)}
	for _, event := range events {
		if filter.TokenID != nil && event.TokenID.Int64() != *filter.TokenID {
			continue
		}
		if filter.Investor != nil && !strings.EqualFold(event.Investor.Hex(), *filter.Investor) {
			continue
		}
		if err := s.applyEvent(ctx, event, false); err != nil {
			metrics.RecordSyncError()
			return result, err
		}
		metrics.RecordEventSynced("resync")
		result.Added++
	}

	logger.Info("targeted investment resync completed",
		zap.Any("token_id", filter.TokenID),
		zap.Any("investor", filter.Investor),
		zap.Int("scanned", result.Scanned),
		zap.Int("added", result.Added))

	return result, nil
}

// Start 启动实时事件订阅，随进程生命周期运行
func (s *IndexerService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrIndexerAlreadyRunning
	}

	subCtx, cancel := context.WithCancel(ctx)

	sink := make(chan *contract.InvestmentCreatedEvent, 64)
	sub, err := s.registry.WatchInvestmentCreated(subCtx, sink)
	if err != nil {
		cancel()
		return err
	}

	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.consumeLiveEvents(subCtx, sub, sink)

	logger.Info("live investment event subscription started")
	return nil
}

// Stop 停止实时订阅
func (s *IndexerService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrIndexerNotRunning
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

// IsRunning 返回实时订阅是否在运行
func (s *IndexerService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// DeleteInvestment 删除单条投资记录
func (s *IndexerService) DeleteInvestment(ctx context.Context, tokenID int64, investor string) (int64, error) {
	return s.repo.DeleteByKey(ctx, tokenID, investor)
}

// ListInvestments 查询投资记录，investor 为空时返回全部
func (s *IndexerService) ListInvestments(ctx context.Context, investor string) ([]*model.Investment, error) {
	if investor != "" {
		return s.repo.ListByInvestor(ctx, investor)
	}
	return s.repo.ListAll(ctx)
}

// consumeLiveEvents 消费实时事件流。单条事件失败只记录日志，
// 不影响后续事件的处理。
func (s *IndexerService) consumeLiveEvents(ctx context.Context, sub ethereum.Subscription, sink <-chan *contract.InvestmentCreatedEvent) {
	defer close(s.done)
	defer sub.Unsubscribe()

	for {
		select {
		case event := <-sink:
			if err := s.applyEvent(ctx, event, true); err != nil {
				metrics.RecordSyncError()
				logger.Error("failed to persist live investment event",
					zap.Int64("token_id", event.TokenID.Int64()),
					zap.String("investor", event.Investor.Hex()),
					zap.Error(err))
				continue
			}
			metrics.RecordEventSynced("live")
			metrics.UpdateLatestSyncedBlock(event.Raw.BlockNumber)
			logger.Info("investment event persisted",
				zap.Int64("token_id", event.TokenID.Int64()),
				zap.String("investor", event.Investor.Hex()))
		case err := <-sub.Err():
			if err != nil {
				metrics.RecordSyncError()
				logger.Error("investment event subscription terminated", zap.Error(err))
			}
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-ctx.Done():
			return
		}
	}
}

// applyEvent 将链上事件映射为投资记录并 upsert。
// live 为 true 时使用观察时刻作为时间戳，否则取区块高度。
func (s *IndexerService) applyEvent(ctx context.Context, event *contract.InvestmentCreatedEvent, live bool) error {
	timestamp := int64(event.Raw.BlockNumber)
	if live || timestamp == 0 {
		timestamp = time.Now().Unix()
	}

	return s.repo.Upsert(ctx, &model.Investment{
		TokenID:        event.TokenID.Int64(),
		Investor:       event.Investor.Hex(),
		SharePercent:   event.SharePercent.Int64(),
		InvestedAmount: decimal.NewFromBigInt(event.InvestedAmount, 0),
		Timestamp:      timestamp,
	})
}
