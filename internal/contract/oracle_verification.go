package contract

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrOracleNotConfigured is returned when the oracle verification contract
// address is missing.
var ErrOracleNotConfigured = errors.New("oracle verification contract not configured")

// OracleVerificationABI is the ABI of the OracleVerification smart contract.
// This matches the Solidity contract interface:
//
//	function verifyIncome(uint256 tokenId, uint256 incomeAmount, uint256 timestamp, string verificationData) external;
const OracleVerificationABI = `[
	{
		"type": "function",
		"name": "verifyIncome",
		"inputs": [
			{"name": "tokenId", "type": "uint256"},
			{"name": "incomeAmount", "type": "uint256"},
			{"name": "timestamp", "type": "uint256"},
			{"name": "verificationData", "type": "string"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	}
]`

// OracleVerificationContract provides methods to interact with the
// OracleVerification smart contract. It records a verified income attestation
// on chain and is the write path used when the payout manager does not expose
// submitProofAndPayout.
type OracleVerificationContract struct {
	address common.Address
	abi     abi.ABI
}

// NewOracleVerificationContract creates a new oracle verification instance.
func NewOracleVerificationContract(address common.Address) (*OracleVerificationContract, error) {
	if address == (common.Address{}) {
		return nil, ErrOracleNotConfigured
	}

	parsed, err := abi.JSON(strings.NewReader(OracleVerificationABI))
	if err != nil {
		return nil, err
	}

	return &OracleVerificationContract{
		address: address,
		abi:     parsed,
	}, nil
}

// Address returns the contract address.
func (c *OracleVerificationContract) Address() common.Address {
	return c.address
}

// PackVerifyIncome packs the verifyIncome call data.
func (c *OracleVerificationContract) PackVerifyIncome(tokenID, incomeAmount, timestamp *big.Int, verificationData string) ([]byte, error) {
	return c.abi.Pack("verifyIncome", tokenID, incomeAmount, timestamp, verificationData)
}
