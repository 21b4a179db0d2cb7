// Package tenant implements the tenant-budget policy (C6): hard-quota
// enforcement lives in governor.Governor already; this package adds
// proportional sharing of the pool left over after every tenant's
// minimum guarantee is reserved, and priority-based preemption
// restricted to that shared pool.
package tenant

import (
	"sort"

	"github.com/hybridkv/hotcache/governor"
)

// ComputeShares returns each tenant's byte allocation: its
// MinGuaranteeBytes plus a proportional slice of the remaining pool
// (total minus the sum of all guarantees) weighted by Weight. Tenants
// with zero Weight receive only their guarantee.
func ComputeShares(total int64, configs map[uint32]governor.TenantConfig) map[uint32]int64 {
	var guaranteed int64
	var totalWeight float64
	for _, cfg := range configs {
		guaranteed += cfg.MinGuaranteeBytes
		totalWeight += cfg.Weight
	}

	shared := total - guaranteed
	if shared < 0 {
		shared = 0
	}

	shares := make(map[uint32]int64, len(configs))
	for id, cfg := range configs {
		share := cfg.MinGuaranteeBytes
		if totalWeight > 0 {
			share += int64(float64(shared) * (cfg.Weight / totalWeight))
		}
		shares[id] = share
	}
	return shares
}

// InSharedPool reports whether tenant's current usage exceeds its
// minimum guarantee, i.e. it is drawing from the shared pool rather
// than its protected allocation. Only entries belonging to a tenant in
// this state may be preempted by a higher-priority tenant.
func InSharedPool(cfg governor.TenantConfig, usedBytes int64) bool {
	return usedBytes > cfg.MinGuaranteeBytes
}

// SelectPreemptionVictim picks the tenant a requester with requesterPriority
// should preempt from, among candidates currently drawing on the shared
// pool. It returns the candidate with the lowest priority (ties broken by
// highest usage-above-guarantee, so the biggest offender goes first), or
// ok=false if no eligible candidate exists.
func SelectPreemptionVictim(requesterPriority uint8, configs map[uint32]governor.TenantConfig, usedBytes map[uint32]int64) (tenant uint32, ok bool) {
	requester := governor.TenantConfig{Priority: requesterPriority}

	type candidate struct {
		id       uint32
		priority uint8
		overage  int64
	}
	var eligible []candidate
	for id, cfg := range configs {
		if !governor.PreemptionAllowed(requester, cfg) {
			continue
		}
		used := usedBytes[id]
		if !InSharedPool(cfg, used) {
			continue
		}
		eligible = append(eligible, candidate{id: id, priority: cfg.Priority, overage: used - cfg.MinGuaranteeBytes})
	}
	if len(eligible) == 0 {
		return 0, false
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].priority != eligible[j].priority {
			return eligible[i].priority < eligible[j].priority
		}
		return eligible[i].overage > eligible[j].overage
	})
	return eligible[0].id, true
}
