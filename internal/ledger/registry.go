package ledger

import (
	"fmt"

	"github.com/better-wallet/ledger-custody/internal/network"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

// Registry holds one Gateway per network.
type Registry struct {
	gateways map[types.Network]Gateway
}

// NewRegistry builds HTTP clients for every network that has an endpoint.
// At least one network must be configured.
func NewRegistry(resolver *network.Resolver, opts Options) (*Registry, error) {
	r := &Registry{gateways: make(map[types.Network]Gateway)}
	for _, n := range resolver.Networks() {
		cfg, err := resolver.Resolve(n)
		if err != nil {
			return nil, err
		}
		if cfg.Endpoint == "" {
			continue
		}
		client, err := NewClient(cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gateway: %w", n, err)
		}
		r.gateways[n] = client
	}
	if len(r.gateways) == 0 {
		return nil, fmt.Errorf("no ledger endpoint configured")
	}
	return r, nil
}

// NewStaticRegistry wraps prebuilt gateways.
func NewStaticRegistry(gateways map[types.Network]Gateway) *Registry {
	return &Registry{gateways: gateways}
}

// For returns the gateway of network n.
func (r *Registry) For(n types.Network) (Gateway, error) {
	g, ok := r.gateways[n]
	if !ok {
		if n.Valid() {
			return nil, apperrors.Ledger(apperrors.ErrCodeLedgerUnavailable, fmt.Sprintf("no ledger endpoint configured for %s", n))
		}
		return nil, apperrors.Validationf("unsupported network %q", n)
	}
	return g, nil
}
