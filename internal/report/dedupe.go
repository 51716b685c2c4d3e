package report

import (
	bloomFilter "github.com/bits-and-blooms/bloom/v3"
)

// recentKeys bounds the exact set that confirms bloom filter hits.
const recentKeys = 4096

// deliveredFilter remembers the keys of delivered rows. The bloom filter is a
// prefilter only: a hit counts as delivered when the key is also in the
// bounded exact set of recent keys, so a false positive never suppresses a
// row. The filter is cleared at resetUsage percent of its capacity; keys
// delivered before a clear may be published again.
type deliveredFilter struct {
	filter     *bloomFilter.BloomFilter
	capacity   uint
	resetUsage float64

	recent map[string]struct{}
	order  []string
	next   int
}

func newDeliveredFilter(capacity uint, falsePositive, resetUsage float64) *deliveredFilter {
	return &deliveredFilter{
		filter:     bloomFilter.NewWithEstimates(capacity, falsePositive),
		capacity:   capacity,
		resetUsage: resetUsage,
		recent:     make(map[string]struct{}, recentKeys),
		order:      make([]string, 0, recentKeys),
	}
}

func (d *deliveredFilter) seen(key string) bool {
	if !d.filter.TestString(key) {
		return false
	}
	_, ok := d.recent[key]
	return ok
}

func (d *deliveredFilter) add(key string) {
	d.resetIfFull()
	d.filter.AddString(key)
	d.remember(key)
}

func (d *deliveredFilter) remember(key string) {
	if _, ok := d.recent[key]; ok {
		return
	}
	if len(d.order) < recentKeys {
		d.order = append(d.order, key)
	} else {
		delete(d.recent, d.order[d.next])
		d.order[d.next] = key
		d.next = (d.next + 1) % recentKeys
	}
	d.recent[key] = struct{}{}
}

func (d *deliveredFilter) resetIfFull() {
	usage := float64(d.filter.ApproximatedSize()) / float64(d.capacity) * 100
	if usage >= d.resetUsage {
		d.filter.ClearAll()
	}
}
