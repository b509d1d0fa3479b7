// Package circuitbreaker wraps sony/gobreaker with the failure-ratio policy
// used for downstream calls.
//
// A Breaker starts Closed. It records outcomes over a sliding window of Window
// length, kept as buckets of Bucket length that expire one at a time, and trips
// to Open once the window holds at least MinCalls counted calls and the failure
// ratio is above FailureRatio. While Open every call is rejected with ErrOpen
// without running. After Cooldown the next call moves it to Half-Open, where a
// single trial call runs: its success closes the breaker with a fresh window,
// its failure reopens it. Other calls during the trial get ErrTooManyRequests.
// The cooldown is checked lazily on the next call; there is no timer goroutine.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

var (
	ErrOpen            = gobreaker.ErrOpenState
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// gobreaker closes after MaxRequests consecutive half-open successes, so a
// single trial closes on the first success.
const halfOpenTrials = 1

// bucketsPerWindow is used when Settings.Bucket is unset.
const bucketsPerWindow = 10

type Settings struct {
	Name         string
	Window       time.Duration
	Bucket       time.Duration
	MinCalls     uint32
	FailureRatio float64
	Cooldown     time.Duration

	// OnStateChange is invoked under the breaker lock; keep it cheap.
	OnStateChange func(name string, from, to State)
	// IsExcluded marks errors that count neither as success nor failure.
	IsExcluded func(err error) bool
}

func DefaultSettings(name string) Settings {
	return Settings{
		Name:         name,
		Window:       60 * time.Second,
		Bucket:       6 * time.Second,
		MinCalls:     5,
		FailureRatio: 0.5,
		Cooldown:     30 * time.Second,
	}
}

type Breaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
}

func New[T any](s Settings) *Breaker[T] {
	if s.MinCalls == 0 {
		s.MinCalls = 1
	}
	if s.Bucket <= 0 || s.Bucket > s.Window {
		s.Bucket = s.Window / bucketsPerWindow
	}

	st := gobreaker.Settings{
		Name:         s.Name,
		MaxRequests:  halfOpenTrials,
		Interval:     s.Window,
		BucketPeriod: s.Bucket,
		Timeout:      s.Cooldown,
		ReadyToTrip:  tripOnRatio(s.MinCalls, s.FailureRatio),
	}
	if s.OnStateChange != nil {
		st.OnStateChange = s.OnStateChange
	}
	if s.IsExcluded != nil {
		st.IsExcluded = s.IsExcluded
	}

	return &Breaker[T]{
		name: s.Name,
		cb:   gobreaker.NewCircuitBreaker[T](st),
	}
}

func tripOnRatio(minCalls uint32, ratio float64) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		// excluded calls are neither successes nor failures
		counted := counts.Requests - min(counts.TotalExclusions, counts.Requests)
		if counted == 0 || counted < minCalls {
			return false
		}
		failureRatio := float64(counts.TotalFailures) / float64(counted)
		return failureRatio > ratio
	}
}

// Execute runs fn if the breaker admits the call. A rejected call returns
// ErrOpen or ErrTooManyRequests and fn is not invoked.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	return b.cb.Execute(fn)
}

func (b *Breaker[T]) State() State {
	return b.cb.State()
}

func (b *Breaker[T]) Name() string {
	return b.name
}

// IsRejection reports whether err came from the breaker refusing the call
// rather than from the call itself.
func IsRejection(err error) bool {
	return errors.Is(err, ErrOpen) || errors.Is(err, ErrTooManyRequests)
}
