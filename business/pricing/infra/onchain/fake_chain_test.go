package onchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// revertError mimics a JSON-RPC execution revert.
type revertError struct{}

func (revertError) Error() string  { return "execution reverted" }
func (revertError) ErrorCode() int { return 3 }

type fakeToken struct {
	decimals uint8
	symbol   string
	bytes32  bool
}

type fakeV3Pool struct {
	token0, token1 common.Address
	sqrtPrice      *big.Int
	liquidity      *big.Int
}

type fakeV2Pair struct {
	token0, token1     common.Address
	reserve0, reserve1 *big.Int
}

type pairKey struct {
	a, b common.Address
	fee  uint32
}

func sortedKey(a, b common.Address, fee uint32) pairKey {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	return pairKey{a, b, fee}
}

// fakeChain answers eth_call for a handful of in-memory contracts.
type fakeChain struct {
	abi *contracts

	mu        sync.Mutex
	tokens    map[common.Address]fakeToken
	v3        map[common.Address]fakeV3Pool
	v2        map[common.Address]fakeV2Pair
	v3Factory map[common.Address]map[pairKey]common.Address
	v2Factory map[common.Address]map[pairKey]common.Address
	calls     map[string]int
	down      bool
}

func newFakeChain() *fakeChain {
	parsed, err := parseContracts()
	if err != nil {
		panic(err)
	}
	return &fakeChain{
		abi:       parsed,
		tokens:    map[common.Address]fakeToken{},
		v3:        map[common.Address]fakeV3Pool{},
		v2:        map[common.Address]fakeV2Pair{},
		v3Factory: map[common.Address]map[pairKey]common.Address{},
		v2Factory: map[common.Address]map[pairKey]common.Address{},
		calls:     map[string]int{},
	}
}

func (f *fakeChain) addV3(factory, pool common.Address, p fakeV3Pool, fee uint32) {
	f.v3[pool] = p
	if f.v3Factory[factory] == nil {
		f.v3Factory[factory] = map[pairKey]common.Address{}
	}
	f.v3Factory[factory][sortedKey(p.token0, p.token1, fee)] = pool
}

func (f *fakeChain) addV2(factory, pair common.Address, p fakeV2Pair) {
	f.v2[pair] = p
	if f.v2Factory[factory] == nil {
		f.v2Factory[factory] = map[pairKey]common.Address{}
	}
	f.v2Factory[factory][sortedKey(p.token0, p.token1, 0)] = pair
}

func (f *fakeChain) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return nil, errors.New("dial tcp: connection refused")
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("bad call")
	}
	to := *msg.To

	switch {
	case f.hasToken(to):
		tok := f.tokens[to]
		out := f.abi.erc20
		if tok.bytes32 {
			out = f.abi.erc20Bytes
		}
		method, err := f.abi.erc20.MethodById(msg.Data[:4])
		if err != nil {
			return nil, revertError{}
		}
		f.calls[method.Name]++
		switch method.Name {
		case "decimals":
			return method.Outputs.Pack(tok.decimals)
		case "symbol", "name":
			if tok.bytes32 {
				var b [32]byte
				copy(b[:], tok.symbol)
				return out.Methods[method.Name].Outputs.Pack(b)
			}
			return method.Outputs.Pack(tok.symbol)
		}
		return nil, revertError{}

	case f.hasV3(to):
		p := f.v3[to]
		return f.answer(f.abi.v3Pool, msg.Data, func(name string, _ []any) ([]any, error) {
			switch name {
			case "token0":
				return []any{p.token0}, nil
			case "token1":
				return []any{p.token1}, nil
			case "liquidity":
				return []any{p.liquidity}, nil
			case "slot0":
				return []any{p.sqrtPrice, big.NewInt(0), uint16(0), uint16(1), uint16(1), uint32(0), true}, nil
			}
			return nil, revertError{}
		})

	case f.hasV2(to):
		p := f.v2[to]
		return f.answer(f.abi.v2Pair, msg.Data, func(name string, _ []any) ([]any, error) {
			switch name {
			case "token0":
				return []any{p.token0}, nil
			case "token1":
				return []any{p.token1}, nil
			case "getReserves":
				return []any{p.reserve0, p.reserve1, uint32(0)}, nil
			}
			return nil, revertError{}
		})

	case f.v3Factory[to] != nil:
		pools := f.v3Factory[to]
		return f.answer(f.abi.v3Factory, msg.Data, func(_ string, in []any) ([]any, error) {
			fee := uint32(in[2].(*big.Int).Uint64())
			return []any{pools[sortedKey(in[0].(common.Address), in[1].(common.Address), fee)]}, nil
		})

	case f.v2Factory[to] != nil:
		pairs := f.v2Factory[to]
		return f.answer(f.abi.v2Factory, msg.Data, func(_ string, in []any) ([]any, error) {
			return []any{pairs[sortedKey(in[0].(common.Address), in[1].(common.Address), 0)]}, nil
		})
	}

	// No code at this address.
	return nil, nil
}

func (f *fakeChain) hasToken(a common.Address) bool {
	_, ok := f.tokens[a]
	return ok
}

func (f *fakeChain) hasV3(a common.Address) bool {
	_, ok := f.v3[a]
	return ok
}

func (f *fakeChain) hasV2(a common.Address) bool {
	_, ok := f.v2[a]
	return ok
}

func (f *fakeChain) answer(contract abi.ABI, data []byte, fn func(name string, in []any) ([]any, error)) ([]byte, error) {
	method, err := contract.MethodById(data[:4])
	if err != nil {
		return nil, revertError{}
	}
	f.calls[method.Name]++

	in, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method.Name, err)
	}
	out, err := fn(method.Name, in)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}
