package contract

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/futurerent/futurerent-chain/internal/blockchain"
)

// ErrNoWritePath is returned when neither the payout manager nor the oracle
// verification contract is available for a ledger write.
var ErrNoWritePath = errors.New("no ledger write path configured")

// receiptTimeout bounds how long a submitted transaction is polled for a receipt.
const receiptTimeout = 2 * time.Minute

// TxBackend is the transaction-side chain access the payout writer needs.
// *blockchain.Client satisfies it.
type TxBackend interface {
	Address() common.Address
	ChainID() int64
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SignTransaction(tx *types.Transaction) (*types.Transaction, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// PayoutRequest carries everything a ledger write needs about a verified
// income submission.
type PayoutRequest struct {
	AssetID      int64
	Period       string
	IncomeAmount decimal.Decimal
	Proof        []byte
	Commitment   string
}

// PayoutWriter issues the on-chain settlement write for a proven income
// submission. Exactly one of two paths is taken per call, resolved by
// capability inspection of the bound payout manager: the direct
// submitProofAndPayout method when the ABI exposes it, otherwise the
// OracleVerification.verifyIncome fallback. The choice is structural, not a
// retry; a failed write is never re-sent.
type PayoutWriter struct {
	backend TxBackend
	payout  *PayoutManagerContract
	oracle  *OracleVerificationContract
}

// NewPayoutWriter creates a payout writer. Either contract may be nil when the
// corresponding address is not configured.
func NewPayoutWriter(backend TxBackend, payout *PayoutManagerContract, oracle *OracleVerificationContract) *PayoutWriter {
	return &PayoutWriter{
		backend: backend,
		payout:  payout,
		oracle:  oracle,
	}
}

// UsesDirectPayout reports which write path Submit will take.
func (w *PayoutWriter) UsesDirectPayout() bool {
	return w.payout != nil && w.payout.SupportsSubmitProofAndPayout()
}

// Submit writes the settlement to the ledger and returns the transaction hash
// once the transaction is mined.
func (w *PayoutWriter) Submit(ctx context.Context, req *PayoutRequest) (string, error) {
	var (
		to   common.Address
		data []byte
		err  error
	)

	if w.UsesDirectPayout() {
		to = w.payout.Address()
		data, err = w.payout.PackSubmitProofAndPayout(
			big.NewInt(req.AssetID),
			req.Period,
			req.Proof,
			[][32]byte{CommitmentToBytes32(req.Commitment)},
		)
	} else if w.oracle != nil {
		to = w.oracle.Address()
		verificationData := req.Commitment
		if verificationData == "" {
			verificationData = "inco-proof"
		}
		data, err = w.oracle.PackVerifyIncome(
			big.NewInt(req.AssetID),
			req.IncomeAmount.BigInt(),
			periodToTimestamp(req.Period),
			verificationData,
		)
	} else {
		return "", ErrNoWritePath
	}
	if err != nil {
		return "", blockchain.NewLedgerError("pack", err)
	}

	from := w.backend.Address()

	nonce, err := w.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", blockchain.NewLedgerError("nonce", err)
	}

	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", blockchain.NewLedgerError("gas_price", err)
	}

	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: data,
	})
	if err != nil {
		// estimation failure usually means the call would revert
		return "", blockchain.NewLedgerError("estimate_gas", err)
	}
	gas = gas * 120 / 100

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas, gasPrice, data)

	signed, err := w.backend.SignTransaction(tx)
	if err != nil {
		return "", blockchain.NewLedgerError("sign", err)
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return "", blockchain.NewLedgerError("send", err)
	}

	receipt, err := w.backend.WaitForReceipt(ctx, signed.Hash(), receiptTimeout)
	if err != nil {
		return "", blockchain.NewLedgerError("receipt", err)
	}

	return receipt.TxHash.Hex(), nil
}

// CommitmentToBytes32 converts a proof commitment into a bytes32 public input.
// Hex-encoded commitments are decoded directly; anything else is hashed.
func CommitmentToBytes32(commitment string) [32]byte {
	if commitment == "" {
		return [32]byte{}
	}
	if len(commitment) >= 2 && commitment[:2] == "0x" {
		return common.HexToHash(commitment)
	}
	return crypto.Keccak256Hash([]byte(commitment))
}

// periodToTimestamp maps a settlement period onto the uint256 timestamp
// parameter of verifyIncome. Numeric periods pass through; calendar periods
// like "2025-07" fall back to the submission time.
func periodToTimestamp(period string) *big.Int {
	if n, err := strconv.ParseInt(period, 10, 64); err == nil {
		return big.NewInt(n)
	}
	return big.NewInt(time.Now().Unix())
}
