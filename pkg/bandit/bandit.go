// Package bandit implements Thompson Sampling over routine variants. Each
// variant is an arm with a Beta(alpha, beta) posterior; selection draws one
// sample per arm and picks the argmax.
package bandit

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Arm holds the Beta posterior parameters for one variant. A fresh arm is
// Beta(1, 1), the uniform prior.
type Arm struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Store persists arm posteriors keyed by experiment and arm index.
type Store interface {
	GetArm(ctx context.Context, experimentID string, arm int) (Arm, bool, error)
	SetArm(ctx context.Context, experimentID string, arm int, a Arm) error
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	arms map[string]Arm
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{arms: make(map[string]Arm)}
}

func armKey(experimentID string, arm int) string {
	return fmt.Sprintf("%s:%d", experimentID, arm)
}

func (s *MemoryStore) GetArm(ctx context.Context, experimentID string, arm int) (Arm, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.arms[armKey(experimentID, arm)]
	return a, ok, nil
}

func (s *MemoryStore) SetArm(ctx context.Context, experimentID string, arm int, a Arm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arms[armKey(experimentID, arm)] = a
	return nil
}

// VariateSource supplies the random variates the sampler consumes. *rand.Rand
// satisfies it; tests can substitute a deterministic source.
type VariateSource interface {
	Float64() float64
	NormFloat64() float64
}

// Sampler draws Beta variates via two Gamma draws (Marsaglia and Tsang).
type Sampler struct {
	src VariateSource
}

// NewSampler creates a Sampler over the given variate source. A nil source
// gets a time-seeded rand.Rand.
func NewSampler(src VariateSource) *Sampler {
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Sampler{src: src}
}

// Beta samples Beta(a, b). Non-positive parameters degrade to the
// distribution mean a/(a+b) rather than panicking.
func (s *Sampler) Beta(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		if a+b == 0 {
			return 0.5
		}
		return a / (a + b)
	}
	x := s.gamma(a)
	y := s.gamma(b)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

func (s *Sampler) gamma(k float64) float64 {
	if k < 1 {
		// boost: Gamma(k) = Gamma(k+1) * U^(1/k)
		u := s.src.Float64()
		return s.gamma(k+1) * math.Pow(u, 1.0/k)
	}
	d := k - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := s.src.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := s.src.Float64()
		if u < 1-0.0331*(x*x)*(x*x) {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// Selector ties a Store and a Sampler together for variant selection.
type Selector struct {
	store   Store
	sampler *Sampler
}

// NewSelector creates a Selector. A nil store gets a MemoryStore; a nil
// sampler gets a time-seeded one.
func NewSelector(store Store, sampler *Sampler) *Selector {
	if store == nil {
		store = NewMemoryStore()
	}
	if sampler == nil {
		sampler = NewSampler(nil)
	}
	return &Selector{store: store, sampler: sampler}
}

// Select draws one Beta sample per arm and returns the index of the largest.
// Unknown arms start at the uniform prior.
func (s *Selector) Select(ctx context.Context, experimentID string, arms int) (int, error) {
	if arms <= 0 {
		return 0, fmt.Errorf("experiment %s has no arms", experimentID)
	}
	best, bestScore := 0, math.Inf(-1)
	for i := 0; i < arms; i++ {
		arm, ok, err := s.store.GetArm(ctx, experimentID, i)
		if err != nil {
			return 0, fmt.Errorf("get arm %d: %w", i, err)
		}
		if !ok {
			arm = Arm{Alpha: 1, Beta: 1}
		}
		score := s.sampler.Beta(arm.Alpha, arm.Beta)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, nil
}

// Record folds an observed outcome into an arm's posterior: success
// increments alpha, failure increments beta.
func (s *Selector) Record(ctx context.Context, experimentID string, arm int, success bool) error {
	a, ok, err := s.store.GetArm(ctx, experimentID, arm)
	if err != nil {
		return fmt.Errorf("get arm %d: %w", arm, err)
	}
	if !ok {
		a = Arm{Alpha: 1, Beta: 1}
	}
	if success {
		a.Alpha++
	} else {
		a.Beta++
	}
	return s.store.SetArm(ctx, experimentID, arm, a)
}
