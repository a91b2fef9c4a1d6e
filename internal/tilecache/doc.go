// Package tilecache is the viewer's tiered tile store.
//
// Each tile moves Absent -> Loading -> CpuResident -> GpuResident. Request
// starts at most one fetch per tile; completions are matched to their fetch by
// a generation number so a cancelled or superseded fetch can never overwrite a
// newer entry. A GPU resident tile keeps its CPU copy until CPU pressure drops
// it, so GPU eviction can demote instead of refetching.
//
// Both tiers are ordered by hashicorp simplelru. Eviction walks oldest first,
// skips pinned tiles (the current draw set) and stops at LowWater of the
// ceiling.
package tilecache
