package wallet

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// emitter fans wallet events out to subscribed listeners. Listeners run on
// the emitting goroutine, outside the emitter's lock.
type emitter struct {
	mu        sync.Mutex
	next      int
	listeners map[int]Listener
}

func (e *emitter) subscribe(l Listener) func() {
	e.mu.Lock()
	if e.listeners == nil {
		e.listeners = make(map[int]Listener)
	}
	id := e.next
	e.next++
	e.listeners[id] = l
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

func (e *emitter) snapshot() []Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Listener, 0, len(e.listeners))
	for i := 0; i < e.next; i++ {
		if l, ok := e.listeners[i]; ok {
			out = append(out, l)
		}
	}
	return out
}

func (e *emitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

func (e *emitter) emitAccounts(accounts []common.Address) {
	for _, l := range e.snapshot() {
		if l.AccountsChanged != nil {
			cp := make([]common.Address, len(accounts))
			copy(cp, accounts)
			l.AccountsChanged(cp)
		}
	}
}

func (e *emitter) emitChain(chainID *big.Int) {
	for _, l := range e.snapshot() {
		if l.ChainChanged != nil {
			l.ChainChanged(new(big.Int).Set(chainID))
		}
	}
}
