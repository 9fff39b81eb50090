package transfer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"

	"github.com/agentpay/escrow-engine/internal/models"
	"github.com/agentpay/escrow-engine/internal/pkg/apperror"
)

// Minimal ERC-20 surface the adapter needs.
const erc20ABI = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// EthAdapter settles transfers on an Ethereum-compatible chain. The native
// asset sentinel moves ether; any other asset string is interpreted as an
// ERC-20 contract address. Identities are mapped to on-chain addresses by
// the resolver supplied at construction.
type EthAdapter struct {
	client    *ethclient.Client
	abi       abi.ABI
	chainID   *big.Int
	key       *ecdsa.PrivateKey
	transacts *bind.TransactOpts
	resolve   func(uuid.UUID) (common.Address, bool)
}

type EthAdapterConfig struct {
	RPCURL        string
	PrivateKeyHex string
	// Addresses maps engine identities to on-chain accounts.
	Addresses map[uuid.UUID]common.Address
}

func NewEthAdapter(ctx context.Context, cfg EthAdapterConfig) (*EthAdapter, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("eth adapter: rpc url is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("eth adapter: private key is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("eth adapter: dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("eth adapter: parse abi: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("eth adapter: parse private key: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth adapter: fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("eth adapter: transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let the node estimate

	addresses := cfg.Addresses
	return &EthAdapter{
		client:    cli,
		abi:       parsedABI,
		chainID:   chainID,
		key:       key,
		transacts: txOpts,
		resolve: func(id uuid.UUID) (common.Address, bool) {
			addr, ok := addresses[id]
			return addr, ok
		},
	}, nil
}

func (e *EthAdapter) Transfer(ctx context.Context, asset string, to uuid.UUID, amount int64) error {
	toAddr, ok := e.resolve(to)
	if !ok {
		return apperror.Wrap(fmt.Errorf("no address for identity %s", to), apperror.ErrCodeTransferFailed, "unknown payee address")
	}

	if asset == models.AssetNative {
		return e.sendNative(ctx, toAddr, amount)
	}
	return e.callToken(ctx, asset, "transfer", toAddr, big.NewInt(amount))
}

func (e *EthAdapter) TransferFrom(ctx context.Context, asset string, from, to uuid.UUID, amount int64) error {
	fromAddr, ok := e.resolve(from)
	if !ok {
		return apperror.Wrap(fmt.Errorf("no address for identity %s", from), apperror.ErrCodeTransferFailed, "unknown payer address")
	}
	toAddr, ok := e.resolve(to)
	if !ok {
		return apperror.Wrap(fmt.Errorf("no address for identity %s", to), apperror.ErrCodeTransferFailed, "unknown recipient address")
	}

	if asset == models.AssetNative {
		// Native funds cannot be pulled; the payer pre-funds the engine
		// account, so a native deposit is settled off this adapter.
		return apperror.Wrap(fmt.Errorf("native pull not supported"), apperror.ErrCodeTransferFailed, "native transferFrom unsupported")
	}
	return e.callToken(ctx, asset, "transferFrom", fromAddr, toAddr, big.NewInt(amount))
}

func (e *EthAdapter) callToken(ctx context.Context, asset, method string, args ...interface{}) error {
	if !common.IsHexAddress(asset) {
		return apperror.Wrap(fmt.Errorf("asset %q is not a token address", asset), apperror.ErrCodeTransferFailed, "invalid token asset")
	}
	contract := bind.NewBoundContract(common.HexToAddress(asset), e.abi, e.client, e.client, e.client)

	opts := *e.transacts
	opts.Context = ctx
	tx, err := contract.Transact(&opts, method, args...)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeTransferFailed, fmt.Sprintf("token %s tx", method))
	}
	return e.waitMined(ctx, tx)
}

func (e *EthAdapter) sendNative(ctx context.Context, to common.Address, amount int64) error {
	from := crypto.PubkeyToAddress(e.key.PublicKey)

	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeTransferFailed, "fetch nonce")
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeTransferFailed, "suggest gas price")
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(amount), 21000, gasPrice, nil)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(e.chainID), e.key)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeTransferFailed, "sign native tx")
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeTransferFailed, "send native tx")
	}
	return e.waitMined(ctx, signed)
}

// waitMined blocks until the transaction is mined so the engine sees the
// transfer as fully settled or fully failed, never in flight.
func (e *EthAdapter) waitMined(ctx context.Context, tx *types.Transaction) error {
	receipt, err := bind.WaitMined(ctx, e.client, tx)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeTransferFailed, "wait for receipt")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return apperror.Wrap(fmt.Errorf("tx %s reverted", tx.Hash().Hex()), apperror.ErrCodeTransferFailed, "transfer reverted")
	}
	return nil
}
