package usecase

import (
	"strings"
	"sync"
)

// CostSchedule prices one provider tier: a flat base charge covering
// IncludedWords of prompt, then BucketCost per started BucketWords beyond it.
// Estimates are deterministic and monotonic in prompt length.
type CostSchedule struct {
	Base          int64
	IncludedWords int
	BucketWords   int
	BucketCost    int64
}

func (s CostSchedule) Estimate(prompt string) int64 {
	words := len(strings.Fields(prompt))
	if words <= s.IncludedWords || s.BucketWords <= 0 {
		return s.Base
	}
	extra := words - s.IncludedWords
	buckets := (extra + s.BucketWords - 1) / s.BucketWords
	return s.Base + int64(buckets)*s.BucketCost
}

// DefaultSchedule is applied to providers without an explicit entry.
var DefaultSchedule = CostSchedule{Base: 40, IncludedWords: 30, BucketWords: 25, BucketCost: 10}

// CostEstimator maps provider names to schedules.
type CostEstimator struct {
	mu        sync.RWMutex
	schedules map[string]CostSchedule
	fallback  CostSchedule
}

func NewCostEstimator(schedules map[string]CostSchedule) *CostEstimator {
	e := &CostEstimator{schedules: make(map[string]CostSchedule), fallback: DefaultSchedule}
	for name, s := range schedules {
		e.schedules[strings.ToLower(name)] = s
	}
	return e
}

func (e *CostEstimator) Estimate(provider, prompt string) int64 {
	e.mu.RLock()
	s, ok := e.schedules[strings.ToLower(provider)]
	e.mu.RUnlock()
	if !ok {
		s = e.fallback
	}
	return s.Estimate(prompt)
}

// SetSchedule replaces the schedule for a provider at runtime.
func (e *CostEstimator) SetSchedule(provider string, s CostSchedule) {
	e.mu.Lock()
	e.schedules[strings.ToLower(provider)] = s
	e.mu.Unlock()
}
