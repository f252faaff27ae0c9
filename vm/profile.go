package vm

import (
	"time"

	"github.com/stellavm/stellavm/op"
)

// ProfileStats accumulates per-opcode execution counts and durations plus
// per-run totals. It is zero-valued until profiling is enabled and a Run
// executes; Reset (via VM.ResetProfile) zeros it again.
type ProfileStats struct {
	OpcodeCounts       [256]uint64
	OpcodeNanoseconds  [256]int64
	Runs               uint64
	TotalRunNanoseconds int64
	TotalSteps         uint64
}

func (p ProfileStats) clone() ProfileStats {
	return p
}

// CountFor returns the execution count recorded for opcode c.
func (p *ProfileStats) CountFor(c op.Code) uint64 { return p.OpcodeCounts[c] }

// DurationFor returns the accumulated execution time recorded for opcode c.
func (p *ProfileStats) DurationFor(c op.Code) time.Duration {
	return time.Duration(p.OpcodeNanoseconds[c])
}

func (p *ProfileStats) recordStep(c op.Code, elapsed time.Duration) {
	p.OpcodeCounts[c]++
	p.OpcodeNanoseconds[c] += int64(elapsed)
	p.TotalSteps++
}

func (p *ProfileStats) recordRun(elapsed time.Duration) {
	p.Runs++
	p.TotalRunNanoseconds += int64(elapsed)
}
