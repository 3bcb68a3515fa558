package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/types"
)

// Converter kinds accepted in [[Converters]].
const (
	KindRiskFund = "riskfund"
	KindSingle   = "single"
	KindVault    = "vault"
)

// Config describes the deployed treasury topology.
type Config struct {
	DataDir        string           `toml:"DataDir"`
	Governance     Governance       `toml:"governance"`
	Network        Network          `toml:"network"`
	Tokens         []Token          `toml:"tokens"`
	Pools          []Pool           `toml:"pools"`
	Oracle         Oracle           `toml:"oracle"`
	Converters     []Converter      `toml:"converters"`
	RiskFund       RiskFund         `toml:"riskfund"`
	VaultTreasury  VaultTreasury    `toml:"vault_treasury"`
	Release        Release          `toml:"release"`
	Balances       []Balance        `toml:"balances"`
	DirectTransfer []DirectTransfer `toml:"direct_transfer"`
}

// Governance is the account granted every administrative method at boot.
type Governance struct {
	Address string   `toml:"Address"`
	Paused  []string `toml:"Paused"`
}

// Network configures the converter network.
type Network struct {
	Address       string `toml:"Address"`
	MaxConverters uint64 `toml:"MaxConverters"`
}

// Token is a token contract deployed at boot.
type Token struct {
	Address  string `toml:"Address"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	FeeBps   uint16 `toml:"FeeBps"`
}

// Pool is a lending pool and its markets.
type Pool struct {
	Address string   `toml:"Address"`
	Name    string   `toml:"Name"`
	Markets []Market `toml:"markets"`
}

// Market lists an asset in a pool.
type Market struct {
	Asset  string `toml:"Asset"`
	VToken string `toml:"VToken"`
}

// Oracle configures the price feeds and their priority.
type Oracle struct {
	MaxAgeSeconds int64  `toml:"MaxAgeSeconds"`
	Feeds         []Feed `toml:"feeds"`
}

// Feed is a named static price source. Feeds are consulted in the order they
// are listed.
type Feed struct {
	Name   string  `toml:"Name"`
	Prices []Price `toml:"prices"`
}

// Price is an 18-decimal USD mantissa for an asset.
type Price struct {
	Asset string `toml:"Asset"`
	Value string `toml:"Value"`
}

// Converter configures one concrete converter.
type Converter struct {
	Kind               string       `toml:"Kind"`
	Address            string       `toml:"Address"`
	BaseAsset          string       `toml:"BaseAsset"`
	Destination        string       `toml:"Destination"`
	MinAmountToConvert string       `toml:"MinAmountToConvert"`
	JoinNetwork        bool         `toml:"JoinNetwork"`
	Pairs              []Conversion `toml:"pairs"`
}

// Conversion is a pair configuration. Incentive is an 18-decimal mantissa.
type Conversion struct {
	TokenIn   string `toml:"TokenIn"`
	TokenOut  string `toml:"TokenOut"`
	Incentive string `toml:"Incentive"`
	Access    string `toml:"Access"`
}

// RiskFund configures the risk fund destination.
type RiskFund struct {
	Address   string `toml:"Address"`
	Converter string `toml:"Converter"`
	Shortfall string `toml:"Shortfall"`
}

// VaultTreasury configures the vault treasury destination.
type VaultTreasury struct {
	Address    string `toml:"Address"`
	VaultToken string `toml:"VaultToken"`
	Vault      string `toml:"Vault"`
}

// Release configures the protocol share reserve.
type Release struct {
	Address      string         `toml:"Address"`
	Distribution []Distribution `toml:"distribution"`
}

// Distribution assigns a share of released funds to a destination.
type Distribution struct {
	Destination   string `toml:"Destination"`
	PercentageBps uint16 `toml:"PercentageBps"`
}

// Balance mints an opening balance.
type Balance struct {
	Token   string `toml:"Token"`
	Account string `toml:"Account"`
	Amount  string `toml:"Amount"`
}

// DirectTransfer marks a pool asset of a risk fund converter as bypassing
// conversion.
type DirectTransfer struct {
	Converter string `toml:"Converter"`
	Pool      string `toml:"Pool"`
	Asset     string `toml:"Asset"`
}

// Load reads and validates the topology at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(raw))
}

// Parse decodes and validates a TOML topology. Unknown keys are rejected.
func Parse(contents string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.Decode(contents, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config: unknown keys %s", strings.Join(keys, ", "))
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Address parses a hex address. Empty strings map to the zero address.
func Address(raw string) (ethcommon.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ethcommon.Address{}, nil
	}
	if !ethcommon.IsHexAddress(trimmed) {
		return ethcommon.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return ethcommon.HexToAddress(trimmed), nil
}

// MustAddress is Address for values already checked by Validate.
func MustAddress(raw string) ethcommon.Address {
	addr, err := Address(raw)
	if err != nil {
		panic(err)
	}
	return addr
}

// Amount parses a non-negative base-10 integer. Underscores may be used as
// digit separators and an empty string is zero.
func Amount(raw string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

// ConversionConfig converts a pair entry into its runtime form.
func (c Conversion) ConversionConfig() (types.ConversionConfig, error) {
	incentive, err := Amount(c.Incentive)
	if err != nil {
		return types.ConversionConfig{}, fmt.Errorf("incentive: %w", err)
	}
	access, err := types.ParseAccessLevel(c.Access)
	if err != nil {
		return types.ConversionConfig{}, err
	}
	return types.ConversionConfig{Incentive: incentive, Access: access}, nil
}
