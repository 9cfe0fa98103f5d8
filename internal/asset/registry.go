package asset

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is a thread-safe directory of known tokens keyed by address.
type Registry struct {
	byAddr   map[common.Address]*Asset
	bySymbol map[string][]*Asset
	mu       sync.RWMutex
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byAddr:   make(map[common.Address]*Asset),
		bySymbol: make(map[string][]*Asset),
	}
}

// Put adds or replaces the metadata for a token.
func (r *Registry) Put(a *Asset) {
	if a == nil {
		panic("asset: cannot register nil asset")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byAddr[a.address]; ok {
		r.bySymbol[old.symbol] = removeAsset(r.bySymbol[old.symbol], old)
	}
	r.byAddr[a.address] = a
	r.bySymbol[a.symbol] = append(r.bySymbol[a.symbol], a)
}

// Get retrieves a token by address.
func (r *Registry) Get(addr common.Address) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byAddr[addr]
	return a, ok
}

// GetBySymbol retrieves all tokens sharing a symbol. Symbols are not
// unique on-chain, so callers must pick by address when it matters.
func (r *Registry) GetBySymbol(symbol string) []*Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assets := r.bySymbol[symbol]
	if len(assets) == 0 {
		return nil
	}

	result := make([]*Asset, len(assets))
	copy(result, assets)
	return result
}

// Count returns the number of registered tokens.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddr)
}

func removeAsset(list []*Asset, target *Asset) []*Asset {
	out := list[:0]
	for _, a := range list {
		if a != target {
			out = append(out, a)
		}
	}
	return out
}
