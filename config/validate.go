package config

import (
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/mantissa"
)

// MaxPercentageBps is the total every release distribution must reach.
const MaxPercentageBps = 10_000

var maxIncentive = new(big.Int).Div(mantissa.One, big.NewInt(2))

// Validate checks that every address parses, every reference points at a
// configured contract and every amount is well formed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if _, err := required("governance.Address", cfg.Governance.Address); err != nil {
		return err
	}

	tokens := make(map[ethcommon.Address]struct{}, len(cfg.Tokens))
	for i, tok := range cfg.Tokens {
		addr, err := required(fmt.Sprintf("tokens[%d].Address", i), tok.Address)
		if err != nil {
			return err
		}
		if _, dup := tokens[addr]; dup {
			return fmt.Errorf("tokens[%d]: duplicate token %s", i, addr.Hex())
		}
		if strings.TrimSpace(tok.Symbol) == "" {
			return fmt.Errorf("tokens[%d]: symbol required", i)
		}
		if tok.FeeBps >= MaxPercentageBps {
			return fmt.Errorf("tokens[%d]: FeeBps must be below %d", i, MaxPercentageBps)
		}
		tokens[addr] = struct{}{}
	}
	token := func(field, raw string) error {
		addr, err := required(field, raw)
		if err != nil {
			return err
		}
		if _, ok := tokens[addr]; !ok {
			return fmt.Errorf("%s: unknown token %s", field, addr.Hex())
		}
		return nil
	}

	pools := make(map[ethcommon.Address]map[ethcommon.Address]struct{}, len(cfg.Pools))
	for i, pool := range cfg.Pools {
		addr, err := required(fmt.Sprintf("pools[%d].Address", i), pool.Address)
		if err != nil {
			return err
		}
		if _, dup := pools[addr]; dup {
			return fmt.Errorf("pools[%d]: duplicate pool %s", i, addr.Hex())
		}
		markets := make(map[ethcommon.Address]struct{}, len(pool.Markets))
		for j, market := range pool.Markets {
			field := fmt.Sprintf("pools[%d].markets[%d]", i, j)
			if err := token(field+".Asset", market.Asset); err != nil {
				return err
			}
			if _, err := required(field+".VToken", market.VToken); err != nil {
				return err
			}
			markets[MustAddress(market.Asset)] = struct{}{}
		}
		pools[addr] = markets
	}
	market := func(field, poolRaw, assetRaw string) error {
		addr, err := required(field+".Pool", poolRaw)
		if err != nil {
			return err
		}
		markets, ok := pools[addr]
		if !ok {
			return fmt.Errorf("%s: unknown pool %s", field, addr.Hex())
		}
		if err := token(field+".Asset", assetRaw); err != nil {
			return err
		}
		if _, ok := markets[MustAddress(assetRaw)]; !ok {
			return fmt.Errorf("%s: asset %s not listed in pool %s", field, MustAddress(assetRaw).Hex(), addr.Hex())
		}
		return nil
	}

	if cfg.Oracle.MaxAgeSeconds < 0 {
		return fmt.Errorf("oracle.MaxAgeSeconds must not be negative")
	}
	feeds := make(map[string]struct{}, len(cfg.Oracle.Feeds))
	for i, feed := range cfg.Oracle.Feeds {
		name := strings.ToLower(strings.TrimSpace(feed.Name))
		if name == "" {
			return fmt.Errorf("oracle.feeds[%d]: name required", i)
		}
		if _, dup := feeds[name]; dup {
			return fmt.Errorf("oracle.feeds[%d]: duplicate feed %q", i, feed.Name)
		}
		feeds[name] = struct{}{}
		for j, price := range feed.Prices {
			field := fmt.Sprintf("oracle.feeds[%d].prices[%d]", i, j)
			if err := token(field+".Asset", price.Asset); err != nil {
				return err
			}
			value, err := Amount(price.Value)
			if err != nil {
				return fmt.Errorf("%s: %w", field, err)
			}
			if value.Sign() == 0 {
				return fmt.Errorf("%s: price must be positive", field)
			}
		}
	}

	converters := make(map[ethcommon.Address]string, len(cfg.Converters))
	for i, conv := range cfg.Converters {
		field := fmt.Sprintf("converters[%d]", i)
		addr, err := required(field+".Address", conv.Address)
		if err != nil {
			return err
		}
		if _, dup := converters[addr]; dup {
			return fmt.Errorf("%s: duplicate converter %s", field, addr.Hex())
		}
		kind := strings.ToLower(strings.TrimSpace(conv.Kind))
		switch kind {
		case KindRiskFund, KindSingle, KindVault:
		default:
			return fmt.Errorf("%s: unknown kind %q", field, conv.Kind)
		}
		converters[addr] = kind
		if err := token(field+".BaseAsset", conv.BaseAsset); err != nil {
			return err
		}
		if kind != KindVault {
			if _, err := required(field+".Destination", conv.Destination); err != nil {
				return err
			}
		}
		if _, err := Amount(conv.MinAmountToConvert); err != nil {
			return fmt.Errorf("%s.MinAmountToConvert: %w", field, err)
		}
		for j, pair := range conv.Pairs {
			pairField := fmt.Sprintf("%s.pairs[%d]", field, j)
			if err := token(pairField+".TokenIn", pair.TokenIn); err != nil {
				return err
			}
			if err := token(pairField+".TokenOut", pair.TokenOut); err != nil {
				return err
			}
			cc, err := pair.ConversionConfig()
			if err != nil {
				return fmt.Errorf("%s: %w", pairField, err)
			}
			if cc.Incentive.Cmp(maxIncentive) > 0 {
				return fmt.Errorf("%s: incentive above 50%%", pairField)
			}
		}
	}

	if cfg.RiskFund.Address != "" {
		if _, err := required("riskfund.Address", cfg.RiskFund.Address); err != nil {
			return err
		}
		conv, err := required("riskfund.Converter", cfg.RiskFund.Converter)
		if err != nil {
			return err
		}
		if converters[conv] != KindRiskFund {
			return fmt.Errorf("riskfund.Converter: %s is not a riskfund converter", conv.Hex())
		}
		if _, err := Address(cfg.RiskFund.Shortfall); err != nil {
			return fmt.Errorf("riskfund.Shortfall: %w", err)
		}
	}

	if cfg.VaultTreasury.Address != "" {
		if _, err := required("vault_treasury.Address", cfg.VaultTreasury.Address); err != nil {
			return err
		}
		if err := token("vault_treasury.VaultToken", cfg.VaultTreasury.VaultToken); err != nil {
			return err
		}
		if _, err := Address(cfg.VaultTreasury.Vault); err != nil {
			return fmt.Errorf("vault_treasury.Vault: %w", err)
		}
	}
	for addr, kind := range converters {
		if kind == KindVault && cfg.VaultTreasury.Address == "" {
			return fmt.Errorf("converter %s: vault converters need a vault_treasury", addr.Hex())
		}
	}

	if cfg.Release.Address != "" {
		if _, err := required("release.Address", cfg.Release.Address); err != nil {
			return err
		}
	}
	if len(cfg.Release.Distribution) > 0 && cfg.Release.Address == "" {
		return fmt.Errorf("release.distribution requires release.Address")
	}
	var total int
	seen := make(map[ethcommon.Address]struct{}, len(cfg.Release.Distribution))
	for i, dist := range cfg.Release.Distribution {
		addr, err := required(fmt.Sprintf("release.distribution[%d].Destination", i), dist.Destination)
		if err != nil {
			return err
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("release.distribution[%d]: duplicate destination %s", i, addr.Hex())
		}
		seen[addr] = struct{}{}
		total += int(dist.PercentageBps)
	}
	if len(cfg.Release.Distribution) > 0 && total != MaxPercentageBps {
		return fmt.Errorf("release.distribution: percentages add up to %d, want %d", total, MaxPercentageBps)
	}

	for i, bal := range cfg.Balances {
		field := fmt.Sprintf("balances[%d]", i)
		if err := token(field+".Token", bal.Token); err != nil {
			return err
		}
		if _, err := required(field+".Account", bal.Account); err != nil {
			return err
		}
		if _, err := Amount(bal.Amount); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}

	for i, dt := range cfg.DirectTransfer {
		field := fmt.Sprintf("direct_transfer[%d]", i)
		conv, err := required(field+".Converter", dt.Converter)
		if err != nil {
			return err
		}
		if converters[conv] != KindRiskFund {
			return fmt.Errorf("%s: %s is not a riskfund converter", field, conv.Hex())
		}
		if err := market(field, dt.Pool, dt.Asset); err != nil {
			return err
		}
	}
	return nil
}

func required(field, raw string) (ethcommon.Address, error) {
	addr, err := Address(raw)
	if err != nil {
		return addr, fmt.Errorf("%s: %w", field, err)
	}
	if addr == (ethcommon.Address{}) {
		return addr, fmt.Errorf("%s: address required", field)
	}
	return addr, nil
}
