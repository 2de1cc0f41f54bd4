package executor

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
)

// pausableABI covers OpenZeppelin Pausable plus the AccessControl and Ownable
// views used for the permission check.
const pausableABI = `[
	{"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"pause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"unpause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"PAUSER_ROLE","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
	{"type":"function","name":"hasRole","stateMutability":"view","inputs":[{"type":"bytes32","name":"role"},{"type":"address","name":"account"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]}
]`

// PauserRole is keccak256("PAUSER_ROLE"), used when the contract does not
// expose the constant.
var PauserRole = crypto.Keccak256Hash([]byte("PAUSER_ROLE"))

// EthContract talks to Pausable contracts over JSON-RPC.
type EthContract struct {
	client  *ethclient.Client
	abi     abi.ABI
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

// DialEthContract connects to rpcURL. privateKeyHex may be empty for a
// read-only binding.
func DialEthContract(ctx context.Context, rpcURL string, chainID int64, privateKeyHex string) (*EthContract, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", rpcURL, err)
	}
	c, err := NewEthContract(client, chainID, privateKeyHex)
	if err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// NewEthContract wraps an existing client.
func NewEthContract(client *ethclient.Client, chainID int64, privateKeyHex string) (*EthContract, error) {
	parsed, err := abi.JSON(strings.NewReader(pausableABI))
	if err != nil {
		return nil, fmt.Errorf("parsing pausable ABI: %w", err)
	}
	c := &EthContract{client: client, abi: parsed, chainID: big.NewInt(chainID)}
	if privateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parsing operator key: %w", err)
		}
		c.key = key
	}
	return c, nil
}

// Client returns the underlying RPC client.
func (c *EthContract) Client() *ethclient.Client { return c.client }

// Operator returns the signing address, or the zero address when read-only.
func (c *EthContract) Operator() common.Address {
	if c.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

// Close releases the RPC connection.
func (c *EthContract) Close() {
	c.client.Close()
}

func (c *EthContract) bound(addr common.Address) *bind.BoundContract {
	return bind.NewBoundContract(addr, c.abi, c.client, c.client, c.client)
}

func (c *EthContract) call(ctx context.Context, addr common.Address, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.bound(addr).Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

// Paused reads paused().
func (c *EthContract) Paused(ctx context.Context, contract common.Address) (bool, error) {
	out, err := c.call(ctx, contract, "paused")
	if err != nil {
		return false, fmt.Errorf("calling paused(): %w", err)
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("paused() returned %T", out[0])
	}
	return v, nil
}

// SubmitPause signs and sends pause(). Gas estimation surfaces revert reasons
// before anything is broadcast.
func (c *EthContract) SubmitPause(ctx context.Context, contract common.Address) (*types.Transaction, error) {
	if c.key == nil {
		return nil, fmt.Errorf("%w: no operator key configured", ErrNotAuthorized)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("building transactor: %w", err)
	}
	opts.Context = ctx
	return c.bound(contract).Transact(opts, "pause")
}

// WaitMined blocks until tx is included or ctx ends.
func (c *EthContract) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, c.client, tx)
}

// HasPauseRight reports whether account may call pause(). AccessControl
// contracts are checked with hasRole(PAUSER_ROLE); contracts without roles
// fall back to owner().
func (c *EthContract) HasPauseRight(ctx context.Context, contract, account common.Address) (bool, error) {
	role := PauserRole
	if out, err := c.call(ctx, contract, "PAUSER_ROLE"); err == nil {
		if r, ok := out[0].([32]byte); ok {
			role = r
		}
	}
	out, err := c.call(ctx, contract, "hasRole", [32]byte(role), account)
	if err == nil {
		granted, _ := out[0].(bool)
		return granted, nil
	}

	out, ownerErr := c.call(ctx, contract, "owner")
	if ownerErr != nil {
		return false, fmt.Errorf("contract exposes neither hasRole nor owner: %w", err)
	}
	owner, _ := out[0].(common.Address)
	return owner == account, nil
}
