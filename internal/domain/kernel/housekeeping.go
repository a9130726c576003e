package kernel

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// TickStats summarizes recent tick work durations
type TickStats struct {
	Ticks  uint64        `json:"ticks"`
	Window int           `json:"window"`
	Mean   time.Duration `json:"mean_ns"`
	StdDev time.Duration `json:"stddev_ns"`
	P99    time.Duration `json:"p99_ns"`
}

// tickStats keeps a ring of tick work samples in seconds
type tickStats struct {
	samples []float64
	next    int
	full    bool
	ticks   uint64
	last    TickStats
}

func newTickStats(window int) *tickStats {
	if window <= 0 {
		window = 256
	}
	return &tickStats{samples: make([]float64, window)}
}

func (s *tickStats) add(work time.Duration) bool {
	s.samples[s.next] = work.Seconds()
	s.next = (s.next + 1) % len(s.samples)
	s.ticks++
	if s.next == 0 {
		s.full = true
		return true
	}
	return false
}

func (s *tickStats) compute() TickStats {
	n := s.next
	if s.full {
		n = len(s.samples)
	}
	if n == 0 {
		return TickStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, s.samples[:n])
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	p99 := stat.Quantile(0.99, stat.Empirical, sorted, nil)

	s.last = TickStats{
		Ticks:  s.ticks,
		Window: n,
		Mean:   seconds(mean),
		StdDev: seconds(std),
		P99:    seconds(p99),
	}
	return s.last
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// housekeeping runs after every tick's work
func (k *Kernel) housekeeping(work time.Duration, drained int) {
	k.metrics.ObserveTick(work, drained)

	if k.stats.add(work) {
		s := k.stats.compute()
		k.metrics.SetTickStats(s.Mean.Seconds(), s.StdDev.Seconds(), s.P99.Seconds())
	}

	for pid := range k.limiters {
		if pid.Valid() && !k.procs.Alive(pid) {
			delete(k.limiters, pid)
		}
	}

	k.metrics.SetLive(k.procs.Len(), k.windows.Len())
}

// TickStats returns statistics over the samples collected so far.
// Kernel goroutine only.
func (k *Kernel) TickStats() TickStats {
	return k.stats.compute()
}

// Stats returns process table and focus statistics. Kernel goroutine only.
func (k *Kernel) Stats() types.Stats {
	s := k.procs.Stats()
	s.FocusedPID = k.router.Focus()
	return s
}
