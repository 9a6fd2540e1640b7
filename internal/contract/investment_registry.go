// Package contract provides smart contract ABI bindings for the FutureRent chain service.
package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Registry contract errors
var (
	ErrRegistryNotConfigured = errors.New("investment registry contract not configured")
	ErrNotInvestmentCreated  = errors.New("log is not an InvestmentCreated event")
)

// FilterBackend is the read-side chain access the registry binding needs.
type FilterBackend interface {
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// InvestmentRegistryABI is the ABI of the InvestmentRegistry smart contract.
// This matches the Solidity contract interface:
//
//	event InvestmentCreated(address indexed investor, uint256 tokenId, uint256 sharePercent, uint256 investedAmount);
const InvestmentRegistryABI = `[
	{
		"type": "event",
		"name": "InvestmentCreated",
		"inputs": [
			{"name": "investor", "type": "address", "indexed": true},
			{"name": "tokenId", "type": "uint256", "indexed": false},
			{"name": "sharePercent", "type": "uint256", "indexed": false},
			{"name": "investedAmount", "type": "uint256", "indexed": false}
		]
	}
]`

// InvestmentCreatedEvent represents the InvestmentCreated event from the registry.
type InvestmentCreatedEvent struct {
	Investor       common.Address `json:"investor"`
	TokenID        *big.Int       `json:"tokenId"`
	SharePercent   *big.Int       `json:"sharePercent"`
	InvestedAmount *big.Int       `json:"investedAmount"`
	Raw            types.Log
}

// InvestmentRegistryContract provides methods to read InvestmentCreated events
// from the InvestmentRegistry smart contract.
type InvestmentRegistryContract struct {
	address common.Address
	abi     abi.ABI
	backend FilterBackend
}

// NewInvestmentRegistryContract creates a new registry contract instance.
func NewInvestmentRegistryContract(address common.Address, backend FilterBackend) (*InvestmentRegistryContract, error) {
	if address == (common.Address{}) {
		return nil, ErrRegistryNotConfigured
	}

	parsed, err := abi.JSON(strings.NewReader(InvestmentRegistryABI))
	if err != nil {
		return nil, err
	}

	return &InvestmentRegistryContract{
		address: address,
		abi:     parsed,
		backend: backend,
	}, nil
}

// Address returns the contract address.
func (c *InvestmentRegistryContract) Address() common.Address {
	return c.address
}

// InvestmentCreatedTopic returns the topic for InvestmentCreated events.
func (c *InvestmentRegistryContract) InvestmentCreatedTopic() common.Hash {
	return c.abi.Events["InvestmentCreated"].ID
}

// FilterQuery builds a log filter for InvestmentCreated events over the given
// block range. investor is an indexed parameter and is pushed down to the node;
// tokenId is not indexed, so callers filter by tokenId on the result set.
func (c *InvestmentRegistryContract) FilterQuery(fromBlock, toBlock *big.Int, investor *common.Address) ethereum.FilterQuery {
	topics := [][]common.Hash{{c.InvestmentCreatedTopic()}}
	if investor != nil {
		topics = append(topics, []common.Hash{common.BytesToHash(investor.Bytes())})
	}

	return ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Topics:    topics,
	}
}

// FilterInvestmentCreated queries past InvestmentCreated events in [fromBlock, toBlock].
// A nil toBlock means latest.
func (c *InvestmentRegistryContract) FilterInvestmentCreated(ctx context.Context, fromBlock, toBlock *big.Int, investor *common.Address) ([]*InvestmentCreatedEvent, error) {
	logs, err := c.backend.FilterLogs(ctx, c.FilterQuery(fromBlock, toBlock, investor))
	if err != nil {
		return nil, err
	}

	events := make([]*InvestmentCreatedEvent, 0, len(logs))
	for _, log := range logs {
		event, err := c.ParseInvestmentCreated(log)
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// WatchInvestmentCreated subscribes to live InvestmentCreated events and
// forwards parsed events to sink until ctx is cancelled.
func (c *InvestmentRegistryContract) WatchInvestmentCreated(ctx context.Context, sink chan<- *InvestmentCreatedEvent) (ethereum.Subscription, error) {
	query := c.FilterQuery(nil, nil, nil)

	logs := make(chan types.Log, 64)
	sub, err := c.backend.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case log := <-logs:
				event, err := c.ParseInvestmentCreated(log)
				if err != nil {
					continue
				}
				// 消费方退出后 sink 可能永远无人接收，发送必须可被 ctx 打断
				select {
				case sink <- event:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// ParseInvestmentCreated parses an InvestmentCreated event from a log.
func (c *InvestmentRegistryContract) ParseInvestmentCreated(log types.Log) (*InvestmentCreatedEvent, error) {
	if len(log.Topics) < 2 || log.Topics[0] != c.InvestmentCreatedTopic() {
		return nil, ErrNotInvestmentCreated
	}

	event := &InvestmentCreatedEvent{}
	event.Raw = log
	event.Investor = common.HexToAddress(log.Topics[1].Hex())

	if len(log.Data) < 96 {
		return nil, ErrNotInvestmentCreated
	}
	event.TokenID = new(big.Int).SetBytes(log.Data[:32])
	event.SharePercent = new(big.Int).SetBytes(log.Data[32:64])
	event.InvestedAmount = new(big.Int).SetBytes(log.Data[64:96])

	return event, nil
}
