package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/config"
	"protocolreserve/core/access"
	"protocolreserve/core/exec"
	"protocolreserve/core/mantissa"
	"protocolreserve/core/oracle"
	"protocolreserve/core/poolregistry"
	"protocolreserve/core/state"
	"protocolreserve/core/token"
	"protocolreserve/core/types"
	"protocolreserve/native/converter"
	"protocolreserve/native/network"
	"protocolreserve/native/release"
	"protocolreserve/native/riskfund"
	"protocolreserve/native/vaulttreasury"
	"protocolreserve/observability/logging"
	"protocolreserve/observability/metrics"
	"protocolreserve/storage"
)

var bootstrappedKey = []byte("app/bootstrapped")

var errNilConfig = errors.New("app: configuration required")

// Converter is the surface shared by every concrete converter.
type Converter interface {
	network.TokenConverter
	GetAmountOut(caller ethcommon.Address, amountIn *big.Int, tokenIn, tokenOut ethcommon.Address) (*big.Int, *big.Int, error)
	ConvertExactTokens(caller ethcommon.Address, amountIn, amountOutMin *big.Int, tokenIn, tokenOut, to ethcommon.Address) (*big.Int, *big.Int, error)
	Destination() (types.OptionalAddress, error)
	MinAmountToConvert() (*big.Int, error)
	UpdateAssetsState(caller, pool, asset ethcommon.Address) error
	SetConversionConfig(caller, tokenIn, tokenOut ethcommon.Address, cfg types.ConversionConfig) error
	SetConverterNetwork(caller ethcommon.Address, n converter.Network) error
}

type options struct {
	db       storage.Database
	logger   *slog.Logger
	metrics  *metrics.TreasuryMetrics
	execOpts []exec.Option
}

// Option customises Build.
type Option func(*options)

// WithDatabase runs the system on db instead of the configured data
// directory. The caller keeps ownership of db.
func WithDatabase(db storage.Database) Option {
	return func(o *options) { o.db = db }
}

// WithLogger sets the logger used by the system and its executor.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records executed calls and their events on m.
func WithMetrics(m *metrics.TreasuryMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithExecutorOptions passes extra options to the executor, e.g. event sinks.
func WithExecutorOptions(opts ...exec.Option) Option {
	return func(o *options) { o.execOpts = append(o.execOpts, opts...) }
}

// System is a fully wired treasury built from a topology.
type System struct {
	Governance ethcommon.Address

	DB       storage.Database
	State    *state.Manager
	Executor *exec.Executor
	Pauses   *Pauses

	Tokens  *token.Registry
	Access  *access.Manager
	Oracle  *oracle.Aggregator
	Pools   *poolregistry.Registry
	Network *network.Network

	RiskFundConverters map[ethcommon.Address]*converter.RiskFundConverter
	RiskFund           *riskfund.RiskFund
	VaultTreasury      *vaulttreasury.Treasury
	Release            *release.ProtocolShareReserve

	cfg        *config.Config
	logger     *slog.Logger
	ownsDB     bool
	standards  map[ethcommon.Address]*token.Standard
	feeds      map[string]*oracle.Feed
	converters map[ethcommon.Address]Converter
	order      []ethcommon.Address
}

// Build constructs every contract of cfg and, on first start, applies the
// configured permissions, balances and settings in a single executor call.
// Later starts against the same database only rebuild the in-memory wiring.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.Component(o.logger, "app")

	s := &System{
		Governance:         config.MustAddress(cfg.Governance.Address),
		Pauses:             NewPauses(cfg.Governance.Paused...),
		Tokens:             token.NewRegistry(),
		Pools:              poolregistry.New(),
		RiskFundConverters: make(map[ethcommon.Address]*converter.RiskFundConverter),
		cfg:                cfg,
		logger:             logger,
		standards:          make(map[ethcommon.Address]*token.Standard),
		feeds:              make(map[string]*oracle.Feed),
		converters:         make(map[ethcommon.Address]Converter),
	}

	s.DB = o.db
	if s.DB == nil {
		if strings.TrimSpace(cfg.DataDir) == "" {
			s.DB = storage.NewMemDB()
		} else {
			db, err := storage.NewLevelDB(cfg.DataDir)
			if err != nil {
				return nil, fmt.Errorf("open data dir: %w", err)
			}
			s.DB = db
		}
		s.ownsDB = true
	}
	s.State = state.NewManager(s.DB)
	s.Access = access.NewManager(s.State)

	execOpts := []exec.Option{exec.WithLogger(logging.Component(o.logger, "exec"))}
	if o.metrics != nil {
		execOpts = append(execOpts, exec.WithSink(o.metrics), exec.WithObserver(o.metrics))
	}
	s.Executor = exec.New(s.State, append(execOpts, o.execOpts...)...)

	if err := s.construct(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.bootstrap(ctx); err != nil {
		s.Close()
		return nil, err
	}
	logger.Info("treasury ready",
		slog.Int("converters", len(s.order)),
		slog.Int("pools", len(cfg.Pools)),
		slog.Int("tokens", len(cfg.Tokens)))
	return s, nil
}

// Close releases the database when Build opened it.
func (s *System) Close() error {
	if s == nil || !s.ownsDB || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Config returns the topology the system was built from.
func (s *System) Config() *config.Config { return s.cfg }

// Converter returns the converter deployed at address.
func (s *System) Converter(address ethcommon.Address) (Converter, bool) {
	conv, ok := s.converters[address]
	return conv, ok
}

// Converters lists the configured converters in configuration order.
func (s *System) Converters() []ethcommon.Address {
	return append([]ethcommon.Address(nil), s.order...)
}

// Token returns the mintable token deployed at address.
func (s *System) Token(address ethcommon.Address) (*token.Standard, bool) {
	tok, ok := s.standards[address]
	return tok, ok
}

// SetPrice refreshes the price of asset on the named feed.
func (s *System) SetPrice(feed string, asset ethcommon.Address, price *big.Int) error {
	f, ok := s.feeds[strings.ToLower(strings.TrimSpace(feed))]
	if !ok {
		return fmt.Errorf("app: unknown feed %q", feed)
	}
	return f.SetPrice(asset, price, time.Now())
}

func (s *System) construct() error {
	cfg := s.cfg
	for _, tc := range cfg.Tokens {
		addr := config.MustAddress(tc.Address)
		var tok *token.Standard
		if tc.FeeBps > 0 {
			fot, err := token.NewFeeOnTransfer(addr, tc.Symbol, tc.Decimals, tc.FeeBps, s.State)
			if err != nil {
				return fmt.Errorf("token %s: %w", tc.Symbol, err)
			}
			tok = fot
		} else {
			tok = token.NewStandard(addr, tc.Symbol, tc.Decimals, s.State)
		}
		s.standards[addr] = tok
		s.Tokens.Register(tok)
	}

	for _, pc := range cfg.Pools {
		pool := config.MustAddress(pc.Address)
		if err := s.Pools.AddPool(pool, pc.Name); err != nil {
			return err
		}
		for _, market := range pc.Markets {
			if err := s.Pools.AddMarket(pool, config.MustAddress(market.Asset), config.MustAddress(market.VToken)); err != nil {
				return err
			}
		}
	}

	priority := make([]string, 0, len(cfg.Oracle.Feeds))
	for _, fc := range cfg.Oracle.Feeds {
		priority = append(priority, fc.Name)
	}
	s.Oracle = oracle.NewAggregator(priority, time.Duration(cfg.Oracle.MaxAgeSeconds)*time.Second)
	now := time.Now()
	for _, fc := range cfg.Oracle.Feeds {
		feed := oracle.NewFeed(fc.Name)
		for _, pc := range fc.Prices {
			price, err := config.Amount(pc.Value)
			if err != nil {
				return err
			}
			if err := feed.SetPrice(config.MustAddress(pc.Asset), price, now); err != nil {
				return err
			}
		}
		s.feeds[strings.ToLower(strings.TrimSpace(fc.Name))] = feed
		s.Oracle.Register(fc.Name, feed)
	}

	emitter := s.Executor.Emitter()
	netAddr, err := config.Address(cfg.Network.Address)
	if err != nil {
		return err
	}
	if netAddr == (ethcommon.Address{}) {
		netAddr = ethcommon.BytesToAddress([]byte("converter-network"))
	}
	s.Network = network.New(netAddr)
	s.Network.SetState(s.State)
	s.Network.SetAccess(s.Access.Bind(netAddr))
	s.Network.SetEmitter(emitter)

	for _, cc := range cfg.Converters {
		addr := config.MustAddress(cc.Address)
		opts := converter.Options{
			Address:   addr,
			BaseAsset: config.MustAddress(cc.BaseAsset),
			State:     s.State,
			Tokens:    s.Tokens,
			Oracle:    s.Oracle,
			Access:    s.Access.Bind(addr),
		}
		switch strings.ToLower(strings.TrimSpace(cc.Kind)) {
		case config.KindRiskFund:
			rfc, err := converter.NewRiskFundConverter(opts, s.Pools)
			if err != nil {
				return err
			}
			rfc.SetEmitter(emitter)
			rfc.SetPauses(s.Pauses)
			s.RiskFundConverters[addr] = rfc
			s.converters[addr] = rfc
		case config.KindSingle:
			stc, err := converter.NewSingleTokenConverter(opts)
			if err != nil {
				return err
			}
			stc.SetEmitter(emitter)
			stc.SetPauses(s.Pauses)
			s.converters[addr] = stc
		case config.KindVault:
			vc, err := converter.NewVaultConverter(opts, config.MustAddress(cfg.VaultTreasury.Address))
			if err != nil {
				return err
			}
			vc.SetEmitter(emitter)
			vc.SetPauses(s.Pauses)
			s.converters[addr] = vc
		}
		s.order = append(s.order, addr)
	}

	if cfg.RiskFund.Address != "" {
		addr := config.MustAddress(cfg.RiskFund.Address)
		fund, err := riskfund.New(riskfund.Options{
			Address: addr,
			State:   s.State,
			Tokens:  s.Tokens,
			Pools:   s.Pools,
			Access:  s.Access.Bind(addr),
		})
		if err != nil {
			return err
		}
		fund.SetEmitter(emitter)
		fund.SetPauses(s.Pauses)
		s.RiskFund = fund
		for _, rfc := range s.RiskFundConverters {
			rfc.SetRiskFund(fund)
		}
	}

	if cfg.VaultTreasury.Address != "" {
		addr := config.MustAddress(cfg.VaultTreasury.Address)
		treasury, err := vaulttreasury.New(addr, config.MustAddress(cfg.VaultTreasury.VaultToken), s.State, s.Tokens, s.Access.Bind(addr))
		if err != nil {
			return err
		}
		treasury.SetEmitter(emitter)
		treasury.SetPauses(s.Pauses)
		s.VaultTreasury = treasury
	}

	if cfg.Release.Address != "" {
		addr := config.MustAddress(cfg.Release.Address)
		psr, err := release.New(release.Options{
			Address: addr,
			State:   s.State,
			Tokens:  s.Tokens,
			Pools:   s.Pools,
			Access:  s.Access.Bind(addr),
		})
		if err != nil {
			return err
		}
		psr.SetEmitter(emitter)
		psr.SetPauses(s.Pauses)
		for _, dist := range cfg.Release.Distribution {
			dest := config.MustAddress(dist.Destination)
			if conv, ok := s.converters[dest]; ok {
				psr.RegisterIncomeHook(dest, conv)
			}
		}
		s.Release = psr
	}
	return nil
}

func (s *System) bootstrap(ctx context.Context) error {
	return s.Executor.Execute(ctx, "bootstrap", func(context.Context) error {
		var done bool
		if _, err := s.State.KVGet(bootstrappedKey, &done); err != nil {
			return err
		}
		if done {
			s.logger.Info("restoring treasury from state")
			return s.restore()
		}
		s.logger.Info("bootstrapping treasury")
		if err := s.grantPermissions(); err != nil {
			return fmt.Errorf("grant permissions: %w", err)
		}
		if err := s.setupNetwork(); err != nil {
			return fmt.Errorf("converter network: %w", err)
		}
		if err := s.setupConverters(); err != nil {
			return fmt.Errorf("converters: %w", err)
		}
		if err := s.setupDestinations(); err != nil {
			return fmt.Errorf("destinations: %w", err)
		}
		if err := s.mintBalances(); err != nil {
			return fmt.Errorf("balances: %w", err)
		}
		return s.State.KVPut(bootstrappedKey, true)
	})
}

func (s *System) restore() error {
	for _, addr := range s.order {
		conv := s.converters[addr]
		if err := conv.SetConverterNetwork(s.Governance, s.Network); err != nil {
			return err
		}
		if s.Network.IsTokenConverter(addr) {
			if err := s.Network.Restore(conv); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *System) grantPermissions() error {
	grant := func(contract ethcommon.Address, methods []string) error {
		for _, method := range methods {
			if err := s.Access.GiveCallPermission(contract, method, s.Governance); err != nil {
				return err
			}
		}
		return nil
	}
	if err := grant(s.Network.Address(), network.AdminMethods); err != nil {
		return err
	}
	for _, addr := range s.order {
		if err := grant(addr, converter.AdminMethods); err != nil {
			return err
		}
	}
	if s.RiskFund != nil {
		if err := grant(s.RiskFund.Address(), riskfund.AdminMethods); err != nil {
			return err
		}
	}
	if s.VaultTreasury != nil {
		if err := grant(s.VaultTreasury.Address(), vaulttreasury.AdminMethods); err != nil {
			return err
		}
	}
	if s.Release != nil {
		if err := grant(s.Release.Address(), release.AdminMethods); err != nil {
			return err
		}
	}
	return nil
}

func (s *System) setupNetwork() error {
	if s.cfg.Network.MaxConverters == 0 {
		return nil
	}
	return s.Network.SetMaxTokenConverters(s.Governance, s.cfg.Network.MaxConverters)
}

func (s *System) setupConverters() error {
	for i, cc := range s.cfg.Converters {
		addr := s.order[i]
		conv := s.converters[addr]
		minAmount, err := config.Amount(cc.MinAmountToConvert)
		if err != nil {
			return err
		}
		if minAmount.Sign() == 0 {
			minAmount = new(big.Int).Set(mantissa.One)
		}
		switch c := conv.(type) {
		case *converter.VaultConverter:
			err = c.Initialize(minAmount)
		case *converter.RiskFundConverter:
			err = c.Initialize(config.MustAddress(cc.Destination), minAmount)
		case *converter.SingleTokenConverter:
			err = c.Initialize(config.MustAddress(cc.Destination), minAmount)
		}
		if err != nil {
			return fmt.Errorf("initialize %s: %w", addr.Hex(), err)
		}
		if err := conv.SetConverterNetwork(s.Governance, s.Network); err != nil {
			return err
		}
		for _, pair := range cc.Pairs {
			pc, err := pair.ConversionConfig()
			if err != nil {
				return err
			}
			if err := conv.SetConversionConfig(s.Governance, config.MustAddress(pair.TokenIn), config.MustAddress(pair.TokenOut), pc); err != nil {
				return fmt.Errorf("pair %s -> %s: %w", pair.TokenIn, pair.TokenOut, err)
			}
		}
		if cc.JoinNetwork {
			if err := s.Network.AddTokenConverter(s.Governance, conv); err != nil {
				return err
			}
		}
	}

	for _, dt := range s.cfg.DirectTransfer {
		rfc := s.RiskFundConverters[config.MustAddress(dt.Converter)]
		err := rfc.SetPoolsAssetsDirectTransfer(s.Governance,
			[]ethcommon.Address{config.MustAddress(dt.Pool)},
			[][]ethcommon.Address{{config.MustAddress(dt.Asset)}},
			[][]bool{{true}})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *System) setupDestinations() error {
	if s.RiskFund != nil {
		if err := s.RiskFund.SetConverter(s.Governance, config.MustAddress(s.cfg.RiskFund.Converter)); err != nil {
			return err
		}
		if shortfall := config.MustAddress(s.cfg.RiskFund.Shortfall); shortfall != (ethcommon.Address{}) {
			if err := s.RiskFund.SetShortfall(s.Governance, shortfall); err != nil {
				return err
			}
		}
	}
	if s.VaultTreasury != nil {
		if vault := config.MustAddress(s.cfg.VaultTreasury.Vault); vault != (ethcommon.Address{}) {
			if err := s.VaultTreasury.SetVault(s.Governance, vault); err != nil {
				return err
			}
		}
	}
	if s.Release != nil && len(s.cfg.Release.Distribution) > 0 {
		configs := make([]release.DistributionConfig, 0, len(s.cfg.Release.Distribution))
		for _, dist := range s.cfg.Release.Distribution {
			configs = append(configs, release.DistributionConfig{
				Destination:   config.MustAddress(dist.Destination),
				PercentageBps: dist.PercentageBps,
			})
		}
		if err := s.Release.AddOrUpdateDistributionConfigs(s.Governance, configs); err != nil {
			return err
		}
	}
	return nil
}

func (s *System) mintBalances() error {
	for _, bal := range s.cfg.Balances {
		tok := s.standards[config.MustAddress(bal.Token)]
		amount, err := config.Amount(bal.Amount)
		if err != nil {
			return err
		}
		if amount.Sign() == 0 {
			continue
		}
		if err := tok.Mint(config.MustAddress(bal.Account), amount); err != nil {
			return err
		}
	}
	return nil
}
