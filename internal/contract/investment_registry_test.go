package contract

import (
	"context"
	"math/big"
	"runtime"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWatchSubscription struct {
	errCh chan error
}

func (s *fakeWatchSubscription) Unsubscribe()      {}
func (s *fakeWatchSubscription) Err() <-chan error { return s.errCh }

// fakeFilterBackend 记录订阅用的日志通道，便于测试里注入链上日志
type fakeFilterBackend struct {
	logs chan<- types.Log
}

func (b *fakeFilterBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (b *fakeFilterBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.logs = ch
	return &fakeWatchSubscription{errCh: make(chan error)}, nil
}

func newTestRegistry(t *testing.T, backend FilterBackend) *InvestmentRegistryContract {
	t.Helper()
	registry, err := NewInvestmentRegistryContract(common.HexToAddress("0x3333"), backend)
	require.NoError(t, err)
	return registry
}

func investmentCreatedLog(registry *InvestmentRegistryContract, tokenID int64) types.Log {
	data := make([]byte, 96)
	big.NewInt(tokenID).FillBytes(data[:32])
	big.NewInt(10).FillBytes(data[32:64])
	big.NewInt(500000).FillBytes(data[64:96])

	return types.Log{
		Topics: []common.Hash{
			registry.InvestmentCreatedTopic(),
			common.BytesToHash(common.HexToAddress("0x4444").Bytes()),
		},
		Data:        data,
		BlockNumber: 42,
	}
}

// TestWatchInvestmentCreated_Forwards 测试订阅日志解析后转发到 sink
func TestWatchInvestmentCreated_Forwards(t *testing.T) {
	backend := &fakeFilterBackend{}
	registry := newTestRegistry(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := make(chan *InvestmentCreatedEvent, 1)
	_, err := registry.WatchInvestmentCreated(ctx, sink)
	require.NoError(t, err)

	backend.logs <- investmentCreatedLog(registry, 5)

	select {
	case event := <-sink:
		assert.Equal(t, int64(5), event.TokenID.Int64())
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}
}

// TestWatchInvestmentCreated_CancelReleasesBlockedSend 测试消费方退出后
// 取消 ctx 能让阻塞在 sink 上的转发协程退出，不会泄漏
func TestWatchInvestmentCreated_CancelReleasesBlockedSend(t *testing.T) {
	backend := &fakeFilterBackend{}
	registry := newTestRegistry(t, backend)

	baseline := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())

	// 无缓冲且无人消费，转发协程会阻塞在发送上
	sink := make(chan *InvestmentCreatedEvent)
	_, err := registry.WatchInvestmentCreated(ctx, sink)
	require.NoError(t, err)

	backend.logs <- investmentCreatedLog(registry, 5)

	cancel()

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, time.Second, 10*time.Millisecond)
}
