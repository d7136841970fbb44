package registry

import (
	"fmt"

	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/chain/bitcoin"
	"payrail/internal/chain/evm"
	"payrail/internal/chain/near"
	"payrail/internal/chain/solana"
	"payrail/internal/chain/tron"
	"payrail/internal/config"
	"payrail/internal/models"
)

// Registry maps each network to its adapter. It is read-only after New.
type Registry struct {
	adapters map[models.NetworkIndex]chain.Adapter
	order    []models.NetworkIndex
}

// New builds a registry, rejecting unknown and duplicate networks
func New(adapters ...chain.Adapter) (*Registry, error) {
	byNetwork := make(map[models.NetworkIndex]chain.Adapter, len(adapters))
	for _, a := range adapters {
		network := a.Network()
		if !network.Valid() {
			return nil, fmt.Errorf("%w: %q", chain.ErrUnsupportedNetwork, network)
		}
		if _, dup := byNetwork[network]; dup {
			return nil, fmt.Errorf("duplicate adapter for %s", network)
		}
		byNetwork[network] = a
	}

	order := make([]models.NetworkIndex, 0, len(byNetwork))
	for _, network := range models.AllNetworks() {
		if _, ok := byNetwork[network]; ok {
			order = append(order, network)
		}
	}
	return &Registry{adapters: byNetwork, order: order}, nil
}

// Get returns the adapter for network
func (r *Registry) Get(network models.NetworkIndex) (chain.Adapter, error) {
	a, ok := r.adapters[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrUnsupportedNetwork, network)
	}
	return a, nil
}

// All returns the adapters in canonical network order
func (r *Registry) All() []chain.Adapter {
	out := make([]chain.Adapter, 0, len(r.order))
	for _, network := range r.order {
		out = append(out, r.adapters[network])
	}
	return out
}

// Networks returns the registered networks in canonical order
func (r *Registry) Networks() []models.NetworkIndex {
	out := make([]models.NetworkIndex, len(r.order))
	copy(out, r.order)
	return out
}

// Close releases adapters that hold open connections
func (r *Registry) Close() {
	for _, a := range r.adapters {
		if c, ok := a.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Build constructs an adapter for every configured network
func Build(cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	var adapters []chain.Adapter
	closeAll := func() {
		for _, a := range adapters {
			if c, ok := a.(interface{ Close() }); ok {
				c.Close()
			}
		}
	}

	for _, network := range models.AllNetworks() {
		chainCfg, ok := cfg.Chains[network]
		if !ok || chainCfg.RPCEndpoint == "" {
			logger.Debug("Network not configured, skipping", zap.String("network", string(network)))
			continue
		}

		a, err := newAdapter(&chainCfg, logger.Named(string(network.Kind())))
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to create adapter for %s: %w", network, err)
		}
		adapters = append(adapters, a)
	}

	r, err := New(adapters...)
	if err != nil {
		closeAll()
		return nil, err
	}
	logger.Info("Chain registry built", zap.Int("networks", len(r.order)))
	return r, nil
}

func newAdapter(chainCfg *config.ChainConfig, logger *zap.Logger) (chain.Adapter, error) {
	switch chainCfg.Network.Kind() {
	case models.ChainKindEVM:
		return evm.NewAdapter(chainCfg, logger)
	case models.ChainKindTron:
		return tron.NewAdapter(chainCfg, logger)
	case models.ChainKindBitcoin:
		return bitcoin.NewAdapter(chainCfg, logger)
	case models.ChainKindSolana:
		return solana.NewAdapter(chainCfg, logger)
	case models.ChainKindNear:
		return near.NewAdapter(chainCfg, logger)
	default:
		return nil, fmt.Errorf("%w: %s", chain.ErrUnsupportedNetwork, chainCfg.Network)
	}
}
