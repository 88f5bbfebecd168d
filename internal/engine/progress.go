package engine

import "sync/atomic"

// progressTracker accumulates the ADDRESSES_CHECKED ratio (§4.G): every
// first-visit onAddressChecked tick increments processedCount against a
// denominator fixed once at Start().
type progressTracker struct {
	total     uint64
	processed uint64
}

func newProgressTracker() *progressTracker {
	return &progressTracker{}
}

func (p *progressTracker) setTotal(total uint64) {
	atomic.StoreUint64(&p.total, total)
}

// tick increments processedCount and returns the new ratio, clamped to 1.0
// so a total under-estimate (reactive discovery growing the branch beyond
// the Start()-time snapshot) never reports over 100%.
func (p *progressTracker) tick() float64 {
	processed := atomic.AddUint64(&p.processed, 1)
	total := atomic.LoadUint64(&p.total)
	if total == 0 {
		return 1.0
	}
	ratio := float64(processed) / float64(total)
	if ratio > 1.0 {
		return 1.0
	}
	return ratio
}
