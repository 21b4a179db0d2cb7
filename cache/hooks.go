package cache

import (
	"container/list"
	"sync"

	"github.com/hybridkv/hotcache/policy"
)

// fingerprintHooks adapts a container/list-backed intrusive recency
// list to policy.Hooks. Since this cache's resident entries live in the
// arena rather than behind a generic map of *node[K,V], the list here
// holds bare fingerprints and needs its own mutex instead of borrowing the
// shard's.
type fingerprintHooks struct {
	mu   sync.Mutex
	l    *list.List
	elem map[uint64]*list.Element
}

func newFingerprintHooks() *fingerprintHooks {
	return &fingerprintHooks{l: list.New(), elem: make(map[uint64]*list.Element)}
}

func (h *fingerprintHooks) MoveToFront(fingerprint uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.elem[fingerprint]; ok {
		h.l.MoveToFront(e)
	}
}

func (h *fingerprintHooks) PushFront(fingerprint uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.elem[fingerprint]; ok {
		h.l.MoveToFront(e)
		return
	}
	h.elem[fingerprint] = h.l.PushFront(fingerprint)
}

func (h *fingerprintHooks) Remove(fingerprint uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.elem[fingerprint]; ok {
		h.l.Remove(e)
		delete(h.elem, fingerprint)
	}
}

func (h *fingerprintHooks) Back() (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.l.Back()
	if e == nil {
		return 0, false
	}
	return e.Value.(uint64), true
}

func (h *fingerprintHooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.l.Len()
}

var _ policy.Hooks = (*fingerprintHooks)(nil)
