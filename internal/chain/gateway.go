package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientGas means the privileged signer cannot fund the
	// write transaction.
	ErrInsufficientGas = errors.New("signer has insufficient funds for gas")
	// ErrCallReverted means the contract rejected the call. The wrapped
	// message carries the revert reason when the node reported one.
	ErrCallReverted = errors.New("contract call reverted")
)

// Gateway abstracts the on-chain operations the sale needs, for a
// configured stablecoin contract and token contract and one privileged
// signing identity. Writes block until the transaction is confirmed or
// fails; there is no async polling surface.
type Gateway interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) (string, error)
	Mint(ctx context.Context, token, recipient common.Address, amount *big.Int) (string, error)
	SignerAddress() common.Address
}

// classifyWriteError maps the node's error strings onto the gateway's
// sentinel errors. geth reports these as plain strings, so substring
// matching is the only handle available.
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %v", ErrInsufficientGas, err)
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "always failing transaction"),
		strings.Contains(msg, "gas required exceeds allowance"):
		return fmt.Errorf("%w: %v", ErrCallReverted, err)
	default:
		return err
	}
}
