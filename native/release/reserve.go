package release

import (
	"errors"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/events"
	"protocolreserve/core/mantissa"
	"protocolreserve/core/token"
	nativecommon "protocolreserve/native/common"
	"protocolreserve/native/reserve"
)

const moduleName = "release"

// MaxPercentageBps is the sum every distribution must add up to.
const MaxPercentageBps = 10_000

// Method identifiers checked against the access control manager.
const (
	MethodAddOrUpdateDistributionConfigs = "addOrUpdateDistributionConfigs(DistributionConfig[])"
	MethodRemoveDistributionConfig       = "removeDistributionConfig(address)"
)

// AdminMethods lists every permissioned method of the reserve.
var AdminMethods = []string{MethodAddOrUpdateDistributionConfigs, MethodRemoveDistributionConfig}

var (
	errNilState        = errors.New("release: state not configured")
	errNilTokens       = errors.New("release: token registry not configured")
	errUnknownDest     = errors.New("release: destination not configured")
	errDuplicateConfig = errors.New("release: destination listed twice")
)

// Storage is the subset of the state manager used by the reserve.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Tokens resolves token contracts by address.
type Tokens interface {
	Get(address ethcommon.Address) (token.Token, error)
}

// Checker authorizes administrative calls.
type Checker interface {
	IsAllowedToCall(caller ethcommon.Address, method string) bool
}

// IncomeHook is notified after a destination received a share of pool
// income. Converters use it to account for and convert what arrived.
type IncomeHook interface {
	UpdateAssetsState(caller, pool, asset ethcommon.Address) error
}

// DistributionConfig assigns a share of every release to a destination.
type DistributionConfig struct {
	Destination   ethcommon.Address
	PercentageBps uint16
}

// Options holds what the reserve needs at construction.
type Options struct {
	Address ethcommon.Address
	State   Storage
	Tokens  Tokens
	Pools   reserve.PoolRegistry
	Access  Checker
}

// ProtocolShareReserve collects the protocol's share of pool income and
// releases it to the configured destinations.
type ProtocolShareReserve struct {
	address ethcommon.Address
	state   Storage
	tokens  Tokens
	access  Checker
	ledger  *reserve.Ledger
	hooks   map[ethcommon.Address]IncomeHook
	emitter events.Emitter
	pauses  nativecommon.PauseView
	guard   nativecommon.ReentrancyGuard
}

// New builds a protocol share reserve.
func New(opts Options) (*ProtocolShareReserve, error) {
	if opts.Address == (ethcommon.Address{}) {
		return nil, nativecommon.ErrZeroAddressNotAllowed
	}
	if opts.State == nil {
		return nil, errNilState
	}
	if opts.Tokens == nil {
		return nil, errNilTokens
	}
	return &ProtocolShareReserve{
		address: opts.Address,
		state:   opts.State,
		tokens:  opts.Tokens,
		access:  opts.Access,
		ledger:  reserve.NewLedger("release/"+opts.Address.Hex(), opts.State, opts.Pools),
		hooks:   make(map[ethcommon.Address]IncomeHook),
		emitter: events.NoopEmitter{},
	}, nil
}

// Address returns the reserve's address.
func (p *ProtocolShareReserve) Address() ethcommon.Address { return p.address }

// SetEmitter configures the event emitter. Passing nil disables events.
func (p *ProtocolShareReserve) SetEmitter(emitter events.Emitter) {
	p.emitter = events.OrNoop(emitter)
}

// SetPauses wires the governance emergency switches.
func (p *ProtocolShareReserve) SetPauses(v nativecommon.PauseView) { p.pauses = v }

// RegisterIncomeHook makes releases to destination notify hook.
func (p *ProtocolShareReserve) RegisterIncomeHook(destination ethcommon.Address, hook IncomeHook) {
	if hook == nil {
		delete(p.hooks, destination)
		return
	}
	p.hooks[destination] = hook
}

func (p *ProtocolShareReserve) configsKey() []byte {
	return []byte("release/" + p.address.Hex() + "/distribution")
}

func (p *ProtocolShareReserve) authorize(caller ethcommon.Address, method string) error {
	if p.access == nil || !p.access.IsAllowedToCall(caller, method) {
		return fmt.Errorf("%w: %s may not call %s", nativecommon.ErrUnauthorized, caller.Hex(), method)
	}
	return nil
}

// DistributionConfigs returns the configured destinations in insertion order.
func (p *ProtocolShareReserve) DistributionConfigs() ([]DistributionConfig, error) {
	var configs []DistributionConfig
	if _, err := p.state.KVGet(p.configsKey(), &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

// TotalDistributions returns the number of configured destinations.
func (p *ProtocolShareReserve) TotalDistributions() (int, error) {
	configs, err := p.DistributionConfigs()
	if err != nil {
		return 0, err
	}
	return len(configs), nil
}

// PercentageOf returns the share of destination in basis points.
func (p *ProtocolShareReserve) PercentageOf(destination ethcommon.Address) (uint16, error) {
	configs, err := p.DistributionConfigs()
	if err != nil {
		return 0, err
	}
	for _, cfg := range configs {
		if cfg.Destination == destination {
			return cfg.PercentageBps, nil
		}
	}
	return 0, nil
}

func checkTotal(configs []DistributionConfig) error {
	if len(configs) == 0 {
		return nil
	}
	var total uint32
	for _, cfg := range configs {
		total += uint32(cfg.PercentageBps)
	}
	if total != MaxPercentageBps {
		return fmt.Errorf("%w: got %d", nativecommon.ErrInvalidTotalPercentage, total)
	}
	return nil
}

// AddOrUpdateDistributionConfigs sets the share of every listed destination.
// The resulting distribution must add up to 100%.
func (p *ProtocolShareReserve) AddOrUpdateDistributionConfigs(caller ethcommon.Address, updates []DistributionConfig) error {
	if err := p.authorize(caller, MethodAddOrUpdateDistributionConfigs); err != nil {
		return err
	}
	configs, err := p.DistributionConfigs()
	if err != nil {
		return err
	}
	seen := make(map[ethcommon.Address]struct{}, len(updates))
	var changes []events.DistributionConfigUpdated
	for _, update := range updates {
		if update.Destination == (ethcommon.Address{}) {
			return nativecommon.ErrZeroAddressNotAllowed
		}
		if update.PercentageBps > MaxPercentageBps {
			return fmt.Errorf("%w: %d bps for %s", nativecommon.ErrInvalidTotalPercentage, update.PercentageBps, update.Destination.Hex())
		}
		if _, dup := seen[update.Destination]; dup {
			return fmt.Errorf("%w: %s", errDuplicateConfig, update.Destination.Hex())
		}
		seen[update.Destination] = struct{}{}

		var old uint16
		found := false
		for i := range configs {
			if configs[i].Destination == update.Destination {
				old = configs[i].PercentageBps
				configs[i].PercentageBps = update.PercentageBps
				found = true
				break
			}
		}
		if !found {
			configs = append(configs, update)
		}
		changes = append(changes, events.DistributionConfigUpdated{
			Reserve:     p.address,
			Destination: update.Destination,
			OldBps:      old,
			NewBps:      update.PercentageBps,
		})
	}
	if err := checkTotal(configs); err != nil {
		return err
	}
	if err := p.state.KVPut(p.configsKey(), configs); err != nil {
		return err
	}
	for _, change := range changes {
		p.emitter.Emit(change)
	}
	return nil
}

// RemoveDistributionConfig drops destination. The remaining destinations
// must still add up to 100%, so a destination with a nonzero share has to be
// set to zero first unless it is the last one.
func (p *ProtocolShareReserve) RemoveDistributionConfig(caller, destination ethcommon.Address) error {
	if err := p.authorize(caller, MethodRemoveDistributionConfig); err != nil {
		return err
	}
	configs, err := p.DistributionConfigs()
	if err != nil {
		return err
	}
	idx := -1
	for i, cfg := range configs {
		if cfg.Destination == destination {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", errUnknownDest, destination.Hex())
	}
	removed := configs[idx]
	configs = append(configs[:idx], configs[idx+1:]...)
	if err := checkTotal(configs); err != nil {
		return err
	}
	if err := p.state.KVPut(p.configsKey(), configs); err != nil {
		return err
	}
	p.emitter.Emit(events.DistributionConfigUpdated{
		Reserve:     p.address,
		Destination: destination,
		OldBps:      removed.PercentageBps,
	})
	return nil
}

// PoolAssetReserve returns the amount of asset held for pool.
func (p *ProtocolShareReserve) PoolAssetReserve(pool, asset ethcommon.Address) (*big.Int, error) {
	return p.ledger.PoolAssetReserve(pool, asset)
}

// AssetReserve returns the amount of asset the reserve accounts for.
func (p *ProtocolShareReserve) AssetReserve(asset ethcommon.Address) (*big.Int, error) {
	return p.ledger.AssetReserve(asset)
}

// UpdateAssetsState accounts for asset that arrived from pool since the last
// update and returns the amount recorded.
func (p *ProtocolShareReserve) UpdateAssetsState(caller, pool, asset ethcommon.Address) (*big.Int, error) {
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	release, err := p.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	tok, err := p.tokens.Get(asset)
	if err != nil {
		return nil, err
	}
	raw, err := tok.BalanceOf(p.address)
	if err != nil {
		return nil, err
	}
	delta, allocations, err := p.ledger.UpdateAssetsState(pool, asset, raw)
	if err != nil {
		return nil, err
	}
	for _, alloc := range allocations {
		p.emitter.Emit(events.AssetsReservesUpdated{Contract: p.address, Pool: alloc.Pool, Asset: asset, Amount: alloc.Amount})
	}
	return delta, nil
}

// ReleaseFunds sends the reserve of every listed asset held for pool to the
// destinations, split by their share. A nil amounts slice, or a nil entry,
// releases the whole reserve of that asset. The rounding residual of the
// split stays tracked for the pool.
func (p *ProtocolShareReserve) ReleaseFunds(caller, pool ethcommon.Address, assets []ethcommon.Address, amounts []*big.Int) error {
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return err
	}
	release, err := p.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if amounts != nil && len(amounts) != len(assets) {
		return nativecommon.ErrInputLengthMisMatch
	}
	configs, err := p.DistributionConfigs()
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		return fmt.Errorf("%w: no destinations configured", nativecommon.ErrInvalidTotalPercentage)
	}
	for i, asset := range assets {
		var amount *big.Int
		if amounts != nil {
			amount = amounts[i]
		}
		if err := p.releaseAsset(pool, asset, amount, configs); err != nil {
			return fmt.Errorf("release %s: %w", asset.Hex(), err)
		}
	}
	return nil
}

func (p *ProtocolShareReserve) releaseAsset(pool, asset ethcommon.Address, amount *big.Int, configs []DistributionConfig) error {
	held, err := p.ledger.PoolAssetReserve(pool, asset)
	if err != nil {
		return err
	}
	if amount == nil {
		amount = held
	}
	if amount.Sign() < 0 {
		return nativecommon.ErrInvalidArguments
	}
	if amount.Cmp(held) > 0 {
		return fmt.Errorf("%w: release %s of %s held for pool %s", nativecommon.ErrInsufficientBalance, amount, held, pool.Hex())
	}

	shares := make([]*big.Int, len(configs))
	total := new(big.Int)
	for i, cfg := range configs {
		share, err := mantissa.MulDivDown(amount, big.NewInt(int64(cfg.PercentageBps)), big.NewInt(MaxPercentageBps))
		if err != nil {
			return err
		}
		shares[i] = share
		total.Add(total, share)
	}
	if total.Sign() == 0 {
		return fmt.Errorf("%w: %s of %s splits to nothing", nativecommon.ErrInsufficientPoolLiquidity, amount, asset.Hex())
	}
	if err := p.ledger.Withdraw(pool, asset, total); err != nil {
		return err
	}

	tok, err := p.tokens.Get(asset)
	if err != nil {
		return err
	}
	for i, cfg := range configs {
		if shares[i].Sign() == 0 {
			continue
		}
		if err := tok.Transfer(p.address, cfg.Destination, shares[i]); err != nil {
			return err
		}
		p.emitter.Emit(events.AssetReleased{
			Reserve:     p.address,
			Pool:        pool,
			Asset:       asset,
			Destination: cfg.Destination,
			Amount:      shares[i],
			ShareBps:    cfg.PercentageBps,
		})
		if hook, ok := p.hooks[cfg.Destination]; ok {
			if err := hook.UpdateAssetsState(p.address, pool, asset); err != nil {
				return fmt.Errorf("notify %s: %w", cfg.Destination.Hex(), err)
			}
		}
	}
	p.emitter.Emit(events.FundsReleased{Reserve: p.address, Pool: pool, Asset: asset, Amount: total})
	return nil
}
