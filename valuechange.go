package valuechange

import (
	"errors"
	"math"
)

var (
	// ErrCounterOverflow is returned by AddScore when the score is already at its maximum.
	ErrCounterOverflow = errors.New("score counter overflow")
	// ErrNoEnv is returned by AddScore when called without a host environment.
	ErrNoEnv = errors.New("no host environment")
)

// Valuechange holds a boolean value and a score counter.
// It is owned by exactly one caller at a time; the host serializes access.
type Valuechange struct {
	value bool
	score uint64
}

// Storage is the persisted layout of a Valuechange instance.
type Storage struct {
	Value bool   `json:"value" yaml:"value"`
	Score uint64 `json:"score" yaml:"score"`
}

//
// Constructors
//

// New returns an instance with value set to initValue and a zero score.
func New(initValue bool) *Valuechange {
	return &Valuechange{value: initValue, score: 0}
}

// Default returns an instance initialized with value false.
func Default() *Valuechange {
	var initValue bool
	return New(initValue)
}

// Restore rebuilds an instance from its persisted layout.
func Restore(s Storage) *Valuechange {
	return &Valuechange{value: s.Value, score: s.Score}
}

// Storage returns the fields that must survive between invocations.
func (v *Valuechange) Storage() Storage {
	return Storage{Value: v.value, Score: v.score}
}

//
// Messages
//

// Flip inverts the stored value.
func (v *Valuechange) Flip() {
	v.value = !v.value
}

// Get returns the stored value.
func (v *Valuechange) Get() bool {
	return v.value
}

// AddScore increments the score by one and emits a ScoreReturn event carrying
// the new score. On overflow or a nil env nothing changes and no event is emitted.
func (v *Valuechange) AddScore(env Env) error {
	if env == nil {
		return ErrNoEnv
	}
	if v.score == math.MaxUint64 {
		return ErrCounterOverflow
	}
	v.score++
	env.DebugPrintf("updated score: %d block: %d", v.score, env.BlockNumber())
	env.EmitEvent(ScoreReturn{Score: v.score})
	return nil
}

// GetScore returns the current score. env is only used for the debug trace and may be nil.
func (v *Valuechange) GetScore(env Env) uint64 {
	if env != nil {
		env.DebugPrintf("current score: %d block: %d", v.score, env.BlockNumber())
	}
	return v.score
}
