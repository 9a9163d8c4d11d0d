package contract

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/scanenginehq/scanengine/internal/domain"
)

// usdcScale is USDC's fixed-point scale (6 decimals).
const usdcScale = 1_000_000

// Polygon mainnet deployments.
var (
	defaultUSDC = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	defaultCTF  = common.HexToAddress("0x4D97DCd97eC945f40cF65F87097ACe5EA0476045")
)

const ctfABIJSON = `[
  {"name":"splitPosition","type":"function","inputs":[
    {"name":"collateralToken","type":"address"},
    {"name":"parentCollectionId","type":"bytes32"},
    {"name":"conditionId","type":"bytes32"},
    {"name":"partition","type":"uint256[]"},
    {"name":"amount","type":"uint256"}],"outputs":[]},
  {"name":"mergePositions","type":"function","inputs":[
    {"name":"collateralToken","type":"address"},
    {"name":"parentCollectionId","type":"bytes32"},
    {"name":"conditionId","type":"bytes32"},
    {"name":"partition","type":"uint256[]"},
    {"name":"amount","type":"uint256"}],"outputs":[]},
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[
    {"name":"owner","type":"address"},
    {"name":"id","type":"uint256"}],
    "outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABIJSON = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[
    {"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[
    {"name":"owner","type":"address"},
    {"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"approve","type":"function","inputs":[
    {"name":"spender","type":"address"},
    {"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Config holds the on-chain client's parameters.
type Config struct {
	RPCURL        string
	PrivateKeyHex string
	ChainID       int
	// USDC and CTF override the Polygon mainnet deployments when set
	// (e.g. for a testnet).
	USDC common.Address
	CTF  common.Address
}

// Client implements domain.ContractClient against the conditional-tokens
// framework over JSON-RPC. A Client built without a private key satisfies
// every read but fails writes with ErrSigningUnavailable.
type Client struct {
	eth     *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int

	usdc common.Address
	ctf  common.Address

	ctfABI   abi.ABI
	erc20ABI abi.ABI
}

// New dials the RPC endpoint and prepares the ABI codecs. PrivateKeyHex may
// be empty: the returned client then runs in read-only mode.
func New(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("contract: rpc url must not be empty")
	}
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("contract: dial %s: %w", cfg.RPCURL, err)
	}

	ctfABI, err := abi.JSON(strings.NewReader(ctfABIJSON))
	if err != nil {
		return nil, fmt.Errorf("contract: parse ctf abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("contract: parse erc20 abi: %w", err)
	}

	c := &Client{
		eth:      eth,
		chainID:  big.NewInt(int64(cfg.ChainID)),
		usdc:     cfg.USDC,
		ctf:      cfg.CTF,
		ctfABI:   ctfABI,
		erc20ABI: erc20ABI,
	}
	if c.usdc == (common.Address{}) {
		c.usdc = defaultUSDC
	}
	if c.ctf == (common.Address{}) {
		c.ctf = defaultCTF
	}

	if cfg.PrivateKeyHex != "" {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("contract: invalid private key: %w", err)
		}
		c.key = key
		c.address = ethcrypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// CanSign reports whether a signing key is configured.
func (c *Client) CanSign() bool { return c.key != nil }

// Address returns the wallet address, or the zero address in read-only mode.
func (c *Client) Address() common.Address { return c.address }

// MintTokens splits amount of collateral into a full outcome set for the
// condition.
func (c *Client) MintTokens(ctx context.Context, conditionID string, amount float64, outcomeCount int) (domain.ContractResult, error) {
	return c.splitOrMerge(ctx, "splitPosition", conditionID, amount, outcomeCount)
}

// MergeTokens merges a full outcome set back into amount of collateral.
func (c *Client) MergeTokens(ctx context.Context, conditionID string, amount float64, outcomeCount int) (domain.ContractResult, error) {
	return c.splitOrMerge(ctx, "mergePositions", conditionID, amount, outcomeCount)
}

func (c *Client) splitOrMerge(ctx context.Context, method, conditionID string, amount float64, outcomeCount int) (domain.ContractResult, error) {
	if c.key == nil {
		return domain.ContractResult{}, fmt.Errorf("contract: %s: %w", method, domain.ErrSigningUnavailable)
	}
	cond, err := conditionHash(conditionID)
	if err != nil {
		return domain.ContractResult{}, err
	}
	if outcomeCount < 2 {
		return domain.ContractResult{}, fmt.Errorf("contract: %w: outcome count %d", domain.ErrDomainReject, outcomeCount)
	}

	data, err := c.ctfABI.Pack(method, c.usdc, common.Hash{}, cond, Partition(outcomeCount), toFixedPoint(amount))
	if err != nil {
		return domain.ContractResult{}, fmt.Errorf("contract: pack %s: %w", method, err)
	}

	txHash, err := c.sendTx(ctx, c.ctf, data)
	if err != nil {
		return domain.ContractResult{Success: false, Err: err.Error()}, err
	}
	return domain.ContractResult{Success: true, TxHash: txHash}, nil
}

// EnsureUsdcApproval approves the CTF to spend at least amount of USDC when
// the current allowance is insufficient.
func (c *Client) EnsureUsdcApproval(ctx context.Context, amount float64) error {
	if c.key == nil {
		return fmt.Errorf("contract: approve: %w", domain.ErrSigningUnavailable)
	}
	needed := toFixedPoint(amount)

	data, err := c.erc20ABI.Pack("allowance", c.address, c.ctf)
	if err != nil {
		return fmt.Errorf("contract: pack allowance: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.usdc, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("contract: read allowance: %w", err)
	}
	current := new(big.Int).SetBytes(out)
	if current.Cmp(needed) >= 0 {
		return nil
	}

	approve, err := c.erc20ABI.Pack("approve", c.ctf, needed)
	if err != nil {
		return fmt.Errorf("contract: pack approve: %w", err)
	}
	if _, err := c.sendTx(ctx, c.usdc, approve); err != nil {
		return fmt.Errorf("contract: approve: %w", err)
	}
	return nil
}

// GetUsdcBalance returns the wallet's USDC balance in whole dollars.
func (c *Client) GetUsdcBalance(ctx context.Context) (float64, error) {
	data, err := c.erc20ABI.Pack("balanceOf", c.address)
	if err != nil {
		return 0, fmt.Errorf("contract: pack balanceOf: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.usdc, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("contract: read usdc balance: %w", err)
	}
	return fromFixedPoint(new(big.Int).SetBytes(out)), nil
}

// GetTokenBalance returns the wallet's outcome-share balance for a position.
func (c *Client) GetTokenBalance(ctx context.Context, positionID string) (float64, error) {
	id, ok := new(big.Int).SetString(strings.TrimPrefix(positionID, "0x"), 16)
	if !ok {
		if id, ok = new(big.Int).SetString(positionID, 10); !ok {
			return 0, fmt.Errorf("contract: invalid position id %q", positionID)
		}
	}
	data, err := c.ctfABI.Pack("balanceOf", c.address, id)
	if err != nil {
		return 0, fmt.Errorf("contract: pack balanceOf: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.ctf, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("contract: read token balance: %w", err)
	}
	return fromFixedPoint(new(big.Int).SetBytes(out)), nil
}

// sendTx signs and broadcasts a legacy transaction to the target contract
// and returns its hash. Gas is estimated against the pending state.
func (c *Client) sendTx(ctx context.Context, to common.Address, data []byte) (string, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: c.address, To: &to, Data: data})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash().Hex(), nil
}

func toFixedPoint(f float64) *big.Int {
	return big.NewInt(int64(f*usdcScale + 0.5))
}

func fromFixedPoint(n *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(n), big.NewFloat(usdcScale)).Float64()
	return f
}

// Disabled is a ContractClient with no RPC connection at all; every read
// returns zero and every write fails with ErrSigningUnavailable. Used when
// no RPC_URL is configured so the rest of the engine keeps running.
type Disabled struct{}

func (Disabled) MintTokens(context.Context, string, float64, int) (domain.ContractResult, error) {
	return domain.ContractResult{}, domain.ErrSigningUnavailable
}

func (Disabled) MergeTokens(context.Context, string, float64, int) (domain.ContractResult, error) {
	return domain.ContractResult{}, domain.ErrSigningUnavailable
}

func (Disabled) EnsureUsdcApproval(context.Context, float64) error {
	return domain.ErrSigningUnavailable
}

func (Disabled) GetUsdcBalance(context.Context) (float64, error) { return 0, nil }

func (Disabled) GetTokenBalance(context.Context, string) (float64, error) { return 0, nil }

func (Disabled) CanSign() bool { return false }
