package converter

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/native/network"
)

// SingleTokenConverter converts whatever it holds into one base asset and
// forwards that asset to its destination. It keeps no per-pool accounting.
type SingleTokenConverter struct {
	*Converter
}

var _ network.TokenConverter = (*SingleTokenConverter)(nil)

// NewSingleTokenConverter builds a single token converter.
func NewSingleTokenConverter(opts Options) (*SingleTokenConverter, error) {
	s := &SingleTokenConverter{}
	conv, err := newConverter(opts, s)
	if err != nil {
		return nil, err
	}
	s.Converter = conv
	return s, nil
}

// UpdateAssetsState forwards the base asset to the destination or converts
// the converter's balance of asset through the network.
func (s *SingleTokenConverter) UpdateAssetsState(caller, pool, asset ethcommon.Address) error {
	release, err := s.enter()
	if err != nil {
		return err
	}
	defer release()

	balance, err := s.rawBalance(asset, s.address)
	if err != nil {
		return err
	}
	if balance.Sign() == 0 {
		return nil
	}
	if asset == s.baseAsset {
		_, err := s.forwardToDestination(pool, asset, balance)
		return err
	}
	_, _, err = s.privateConversion(pool, asset, balance)
	return err
}

func (s *SingleTokenConverter) availableBalance(tok ethcommon.Address) (*big.Int, error) {
	return s.rawBalance(tok, s.address)
}

func (s *SingleTokenConverter) postConversion(tokenIn, _ ethcommon.Address, amountIn, _ *big.Int) error {
	if tokenIn != s.baseAsset {
		return nil
	}
	_, err := s.forwardToDestination(ethcommon.Address{}, tokenIn, amountIn)
	return err
}

func (s *SingleTokenConverter) postPrivateConversion(_, _ ethcommon.Address, _, _ *big.Int) error {
	return nil
}

func (s *SingleTokenConverter) preSweep(ethcommon.Address, *big.Int) error { return nil }
