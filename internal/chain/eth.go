package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/stablemint/tokensale-backend/pkg/logger"
)

// The only contract surface the sale touches: ERC-20 reads plus the
// token's owner-only mint.
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"mint","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// EthGateway implements Gateway over a JSON-RPC node with a single
// privileged private key. One instance is wired in at startup and
// shared; the node nonce-orders the signer's transactions.
type EthGateway struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	signer  common.Address
	chainID *big.Int
	erc20   abi.ABI
}

func NewEthGateway(ctx context.Context, rpcURL, privateKeyHex string, chainID int64) (*EthGateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc node: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}

	return &EthGateway{
		client:  client,
		key:     key,
		signer:  crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
		erc20:   parsed,
	}, nil
}

func (g *EthGateway) SignerAddress() common.Address {
	return g.signer
}

func (g *EthGateway) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return g.readUint(ctx, token, "balanceOf", holder)
}

func (g *EthGateway) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return g.readUint(ctx, token, "allowance", owner, spender)
}

// TransferFrom pulls amount of the token from the buyer to the recipient
// and blocks until the transaction is mined.
func (g *EthGateway) TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) (string, error) {
	return g.submit(ctx, token, "transferFrom", from, to, amount)
}

// Mint creates amount of the token for the recipient and blocks until
// the transaction is mined.
func (g *EthGateway) Mint(ctx context.Context, token, recipient common.Address, amount *big.Int) (string, error) {
	return g.submit(ctx, token, "mint", recipient, amount)
}

func (g *EthGateway) readUint(ctx context.Context, contract common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := g.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	out, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		logger.Errorf("%s call on %s failed: %v", method, contract.Hex(), err)
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	results, err := g.erc20.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	value, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned unexpected type %T", method, results[0])
	}
	return value, nil
}

// submit signs and sends a state-changing call, then waits for it to be
// mined. A mined receipt with failed status is a revert the node did not
// catch at estimation time.
func (g *EthGateway) submit(ctx context.Context, contract common.Address, method string, args ...interface{}) (string, error) {
	data, err := g.erc20.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	nonce, err := g.client.PendingNonceAt(ctx, g.signer)
	if err != nil {
		return "", fmt.Errorf("failed to fetch signer nonce: %w", err)
	}

	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}

	// Estimation runs the call against pending state, so reverts and an
	// underfunded signer surface here before anything is broadcast.
	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     g.signer,
		To:       &contract,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		logger.Errorf("%s gas estimation on %s failed: %v", method, contract.Hex(), err)
		return "", classifyWriteError(err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(g.chainID), g.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s transaction: %w", method, err)
	}

	if err := g.client.SendTransaction(ctx, signed); err != nil {
		logger.Errorf("failed to broadcast %s transaction: %v", method, err)
		return "", classifyWriteError(err)
	}

	logger.Infof("%s transaction sent: %s, waiting for confirmation", method, signed.Hash().Hex())
	receipt, err := bind.WaitMined(ctx, g.client, signed)
	if err != nil {
		return "", fmt.Errorf("failed waiting for %s confirmation: %w", method, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return "", fmt.Errorf("%w: %s transaction %s reverted on-chain", ErrCallReverted, method, signed.Hash().Hex())
	}

	logger.Infof("%s confirmed in block %d: %s", method, receipt.BlockNumber.Uint64(), signed.Hash().Hex())
	return signed.Hash().Hex(), nil
}
