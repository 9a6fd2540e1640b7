package contract

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Payout contract errors
var (
	ErrPayoutNotConfigured = errors.New("payout manager contract not configured")
	ErrEmptyProof          = errors.New("empty proof payload")
)

// PayoutManagerABI is the ABI of the PayoutManager smart contract.
// This matches the Solidity contract interface:
//
//	function submitProofAndPayout(uint256 assetId, string period, bytes proof, bytes32[] publicInputs) external;
const PayoutManagerABI = `[
	{
		"type": "function",
		"name": "submitProofAndPayout",
		"inputs": [
			{"name": "assetId", "type": "uint256"},
			{"name": "period", "type": "string"},
			{"name": "proof", "type": "bytes"},
			{"name": "publicInputs", "type": "bytes32[]"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	}
]`

// PayoutManagerContract provides methods to interact with the PayoutManager
// smart contract. The deployed contract may be an older revision without the
// submitProofAndPayout entry point, in which case the binding is constructed
// from an ABI that lacks the method and callers should fall back to oracle
// verification.
type PayoutManagerContract struct {
	address common.Address
	abi     abi.ABI
}

// NewPayoutManagerContract creates a new payout manager instance. abiJSON
// overrides the built-in ABI when non-empty; this is how deployments pin the
// binding to the revision actually on chain.
func NewPayoutManagerContract(address common.Address, abiJSON string) (*PayoutManagerContract, error) {
	if address == (common.Address{}) {
		return nil, ErrPayoutNotConfigured
	}

	if abiJSON == "" {
		abiJSON = PayoutManagerABI
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}

	return &PayoutManagerContract{
		address: address,
		abi:     parsed,
	}, nil
}

// Address returns the contract address.
func (c *PayoutManagerContract) Address() common.Address {
	return c.address
}

// SupportsSubmitProofAndPayout reports whether the bound ABI exposes the
// direct proof-and-payout entry point.
func (c *PayoutManagerContract) SupportsSubmitProofAndPayout() bool {
	_, ok := c.abi.Methods["submitProofAndPayout"]
	return ok
}

// PackSubmitProofAndPayout packs the submitProofAndPayout call data.
func (c *PayoutManagerContract) PackSubmitProofAndPayout(assetID *big.Int, period string, proof []byte, publicInputs [][32]byte) ([]byte, error) {
	if len(proof) == 0 {
		return nil, ErrEmptyProof
	}
	return c.abi.Pack("submitProofAndPayout", assetID, period, proof, publicInputs)
}
