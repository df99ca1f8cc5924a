package vm

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Execution limits
// ---------------------------------------------------------------------------

// Limits bounds one top-level invocation. Zero fields are unlimited.
type Limits struct {
	MaxInstructions uint64
	Timeout         time.Duration
	MaxCallDepth    int
	MaxStackDepth   int
	MaxScopeDepth   int
	MaxFrameSize    int // registers per activation frame
}

// DefaultLimits are generous enough for real content and small enough to
// stop runaway loops within seconds.
var DefaultLimits = Limits{
	MaxInstructions: 500_000_000,
	Timeout:         15 * time.Second,
	MaxCallDepth:    1024,
	MaxStackDepth:   65536,
	MaxScopeDepth:   1024,
	MaxFrameSize:    65536,
}

// stackReserve caps the operand stack capacity reserved up front. Bodies
// declare MaxStack themselves, so larger stacks grow on demand.
const stackReserve = 1024

// checkInterval is how many instructions run between context checks.
const checkInterval = 1024

// budget is the running count for the current top-level invocation.
type budget struct {
	limits   Limits
	ctx      context.Context
	deadline time.Time
	count    uint64
}

func (b *budget) reset(ctx context.Context, limits Limits) {
	b.limits = limits
	b.ctx = ctx
	b.count = 0
	b.deadline = time.Time{}
	if limits.Timeout > 0 {
		b.deadline = time.Now().Add(limits.Timeout)
	}
}

// tick accounts for one instruction.
func (b *budget) tick() error {
	b.count++
	if b.limits.MaxInstructions > 0 && b.count > b.limits.MaxInstructions {
		return faultf(FaultLimit, "instruction budget of %d exhausted", b.limits.MaxInstructions)
	}
	if b.count%checkInterval != 0 {
		return nil
	}
	if b.ctx != nil {
		if err := b.ctx.Err(); err != nil {
			return faultf(FaultLimit, "cancelled: %v", err)
		}
	}
	if !b.deadline.IsZero() && time.Now().After(b.deadline) {
		return faultf(FaultLimit, "timeout of %s exceeded", b.limits.Timeout)
	}
	return nil
}

// Executed returns the number of instructions run so far.
func (b *budget) Executed() uint64 { return b.count }
