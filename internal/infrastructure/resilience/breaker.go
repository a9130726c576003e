package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrOpen is returned while the breaker rejects calls
	ErrOpen = errors.New("circuit breaker is open")
	// ErrProbeLimit is returned when a half-open breaker already has its probes in flight
	ErrProbeLimit = errors.New("circuit breaker probe limit reached")
)

// State represents the breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures a Breaker
type Settings struct {
	// Probes is how many calls a half-open breaker lets through, and how many
	// must succeed to close it again
	Probes uint32
	// Window is how often counts reset while closed
	Window time.Duration
	// Cooldown is how long the breaker stays open
	Cooldown time.Duration
	// Trip decides, after a failure while closed, whether to open
	Trip func(c Counts) bool
	// IsFailure decides whether an error counts against the breaker. Errors
	// it rejects leave the counts untouched and free the call's probe slot.
	// The default ignores context cancellation and deadlines.
	IsFailure func(err error) bool
	// OnStateChange observes transitions
	OnStateChange func(name string, from, to State)
	// Now overrides the clock
	Now func() time.Time
}

// Counts are the call statistics of the current window
type Counts struct {
	Calls                uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker fails calls fast after repeated failures
type Breaker struct {
	name     string
	settings Settings

	mu     sync.Mutex
	state  State
	counts Counts
	epoch  uint64
	expiry time.Time
}

// New creates a breaker. Zero settings get defaults: one probe, a one
// minute window, a thirty second cooldown, tripping after five
// consecutive failures.
func New(name string, s Settings) *Breaker {
	if s.Probes == 0 {
		s.Probes = 1
	}
	if s.Window == 0 {
		s.Window = time.Minute
	}
	if s.Cooldown == 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Trip == nil {
		s.Trip = func(c Counts) bool { return c.ConsecutiveFailures >= 5 }
	}
	if s.IsFailure == nil {
		s.IsFailure = TransportFailure
	}
	if s.Now == nil {
		s.Now = time.Now
	}

	return &Breaker{
		name:     name,
		settings: s,
		expiry:   s.Now().Add(s.Window),
	}
}

// Name returns the breaker name
func (b *Breaker) Name() string { return b.name }

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current(b.settings.Now())
}

// Counts returns a copy of the current window's counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// TransportFailure reports whether err is anything but the caller giving up
func TransportFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

type outcome int

const (
	outcomeFailure outcome = iota
	outcomeSuccess
	outcomeIgnored
)

// Do runs fn unless the breaker is open. fn's error counts as a failure
// when Settings.IsFailure accepts it; a panic always does.
func (b *Breaker) Do(fn func() error) error {
	epoch, err := b.admit()
	if err != nil {
		return err
	}

	result := outcomeFailure
	defer func() { b.record(epoch, result) }()

	err = fn()
	switch {
	case err == nil:
		result = outcomeSuccess
	case !b.settings.IsFailure(err):
		result = outcomeIgnored
	}
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current(b.settings.Now()) {
	case StateOpen:
		return b.epoch, ErrOpen
	case StateHalfOpen:
		if b.counts.Calls >= b.settings.Probes {
			return b.epoch, ErrProbeLimit
		}
	}
	b.counts.Calls++
	return b.epoch, nil
}

// record books a result unless the breaker moved on since admission
func (b *Breaker) record(epoch uint64, result outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.settings.Now()
	state := b.current(now)
	if epoch != b.epoch {
		return
	}

	switch result {
	case outcomeIgnored:
		b.counts.Calls--
		return
	case outcomeSuccess:
		b.counts.Successes++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.Probes {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if b.settings.Trip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// current applies time-based transitions and returns the state
func (b *Breaker) current(now time.Time) State {
	switch b.state {
	case StateClosed:
		if b.expiry.Before(now) {
			b.counts = Counts{}
			b.epoch++
			b.expiry = now.Add(b.settings.Window)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.counts = Counts{}
	b.epoch++

	switch to {
	case StateClosed:
		b.expiry = now.Add(b.settings.Window)
	case StateOpen:
		b.expiry = now.Add(b.settings.Cooldown)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
