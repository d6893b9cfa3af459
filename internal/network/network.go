// Package network maps a ledger network identifier to the gateway endpoint and
// the passphrase that scopes signatures to that network.
package network

import (
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

// Default signing domains. There are no default endpoints: the envelope
// format is this service's own, so a gateway must be configured explicitly.
const (
	DefaultPublicPassphrase  = "Public Global Stellar Network ; September 2015"
	DefaultTestnetPassphrase = "Test SDF Network ; September 2015"
)

// Config is everything needed to talk to and sign for one network.
type Config struct {
	Network    types.Network
	Endpoint   string
	Passphrase string
	// FaucetURL is empty for networks without a faucet.
	FaucetURL string
}

// Resolver resolves networks to their Config.
type Resolver struct {
	configs map[types.Network]Config
}

// NewResolver builds a resolver from explicit configs. An empty passphrase
// falls back to the default for that network; endpoints and faucet URLs are
// left empty unless given.
func NewResolver(configs ...Config) *Resolver {
	r := &Resolver{configs: map[types.Network]Config{
		types.NetworkPublic: {
			Network:    types.NetworkPublic,
			Passphrase: DefaultPublicPassphrase,
		},
		types.NetworkTestnet: {
			Network:    types.NetworkTestnet,
			Passphrase: DefaultTestnetPassphrase,
		},
	}}

	for _, c := range configs {
		base, ok := r.configs[c.Network]
		if !ok {
			continue
		}
		if c.Endpoint != "" {
			base.Endpoint = c.Endpoint
		}
		if c.Passphrase != "" {
			base.Passphrase = c.Passphrase
		}
		if c.FaucetURL != "" && c.Network == types.NetworkTestnet {
			base.FaucetURL = c.FaucetURL
		}
		r.configs[c.Network] = base
	}
	return r
}

// Resolve returns the Config for n.
func (r *Resolver) Resolve(n types.Network) (Config, error) {
	c, ok := r.configs[n]
	if !ok {
		return Config{}, apperrors.Validationf("unsupported network %q", n)
	}
	return c, nil
}

// Networks lists the configured networks.
func (r *Resolver) Networks() []types.Network {
	return []types.Network{types.NetworkPublic, types.NetworkTestnet}
}
