package service

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/privacykit/shortlink/internal/app/repository"
)

const (
	defaultFilterCapacity  = 1_000_000
	defaultFilterErrorRate = 0.001
)

// CodeFilter is an in-process Bloom filter over issued short codes. A "no"
// answer lets the generator skip the store check for a fresh draw, where a
// stale miss at worst risks a duplicate insert the unique constraint catches.
// The filter lags codes issued by other replicas until the next rebuild, so
// lookups must never treat a miss as proof a code does not exist.
type CodeFilter struct {
	mu        sync.RWMutex
	bits      *bloom.BloomFilter
	capacity  uint
	errorRate float64
}

// NewCodeFilter sizes a filter for the expected number of codes.
func NewCodeFilter(capacity uint, errorRate float64) *CodeFilter {
	if capacity == 0 {
		capacity = defaultFilterCapacity
	}
	if errorRate <= 0 || errorRate >= 1 {
		errorRate = defaultFilterErrorRate
	}
	return &CodeFilter{
		bits:      bloom.NewWithEstimates(capacity, errorRate),
		capacity:  capacity,
		errorRate: errorRate,
	}
}

// Add records a newly issued code.
func (f *CodeFilter) Add(code string) {
	f.mu.Lock()
	f.bits.AddString(code)
	f.mu.Unlock()
}

// MayExist reports whether the code might have been issued. False is exact.
func (f *CodeFilter) MayExist(code string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bits.TestString(code)
}

// Reload rebuilds the filter from a full set of codes and swaps it in.
func (f *CodeFilter) Reload(codes []string) {
	fresh := bloom.NewWithEstimates(f.capacity, f.errorRate)
	for _, code := range codes {
		fresh.AddString(code)
	}
	f.mu.Lock()
	f.bits = fresh
	f.mu.Unlock()
}

// Warm loads every code currently in the store. Returns the number loaded.
func (f *CodeFilter) Warm(ctx context.Context, repo repository.LinkRepository) (int, error) {
	codes, err := repo.ListCodes(ctx)
	if err != nil {
		return 0, err
	}
	f.Reload(codes)
	return len(codes), nil
}
