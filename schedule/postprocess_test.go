package schedule

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhome/battplan/strategy"
)

func entriesOf(start time.Time, modes ...strategy.Mode) []ScheduledMode {
	out := make([]ScheduledMode, len(modes))
	for i, m := range modes {
		out[i] = ScheduledMode{
			BlockStart:      start.Add(time.Duration(i) * 15 * time.Minute),
			DurationMinutes: 15,
			Mode:            m,
			Reason:          "test",
			DecisionUID:     "test:block",
		}
	}
	return out
}

func modesOf(entries []ScheduledMode) []strategy.Mode {
	out := make([]strategy.Mode, len(entries))
	for i, e := range entries {
		out[i] = e.Mode
	}
	return out
}

func ppParams() Params {
	p := DefaultParams()
	p.MinConsecutiveForceBlocks = 2
	p.MaxGapBlocks = 2
	return p
}

var ppStart = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

func TestMergeNearbyChargeBlocksFillsGap(t *testing.T) {
	FC, SU := strategy.ForceCharge, strategy.SelfUse
	entries := entriesOf(ppStart, FC, FC, SU, FC, FC)
	predicted := make([]float64, len(entries))

	out := mergeNearbyChargeBlocks(ppParams(), entries, predicted)

	assert.Equal(t, []strategy.Mode{FC, FC, FC, FC, FC}, modesOf(out))
	assert.Contains(t, out[2].Reason, "gap-filled")
	assert.NotContains(t, out[1].Reason, "gap-filled")
	assert.NotContains(t, out[3].Reason, "gap-filled")
}

func TestMergeNearbyChargeBlocksSkipsDischargeGap(t *testing.T) {
	FC, FD := strategy.ForceCharge, strategy.ForceDischarge
	entries := entriesOf(ppStart, FC, FC, FD, FC, FC)
	predicted := make([]float64, len(entries))

	out := mergeNearbyChargeBlocks(ppParams(), entries, predicted)

	assert.Equal(t, FD, out[2].Mode)
}

func TestMergeNearbyChargeBlocksRespectsMaxGap(t *testing.T) {
	FC, SU := strategy.ForceCharge, strategy.SelfUse
	params := ppParams()
	params.MaxGapBlocks = 1
	entries := entriesOf(ppStart, FC, SU, SU, FC)
	predicted := make([]float64, len(entries))

	out := mergeNearbyChargeBlocks(params, entries, predicted)

	assert.Equal(t, []strategy.Mode{FC, SU, SU, FC}, modesOf(out))
}

func TestExtendShortRunRightward(t *testing.T) {
	FC, SU := strategy.ForceCharge, strategy.SelfUse
	entries := entriesOf(ppStart, SU, FC, SU, SU)
	predicted := make([]float64, len(entries))

	out := extendOrDropShortRuns(ppParams(), entries, predicted)

	assert.Equal(t, []strategy.Mode{SU, FC, FC, SU}, modesOf(out))
	assert.Contains(t, out[2].Reason, "run-extended")
}

func TestExtendShortRunLeftwardWhenRightBlocked(t *testing.T) {
	FC, FD, SU := strategy.ForceCharge, strategy.ForceDischarge, strategy.SelfUse
	entries := entriesOf(ppStart, SU, FC, FD, FD)
	predicted := make([]float64, len(entries))

	out := extendOrDropShortRuns(ppParams(), entries, predicted)

	assert.Equal(t, FC, out[0].Mode)
	assert.Equal(t, FC, out[1].Mode)
	assert.Equal(t, FD, out[2].Mode)
}

func TestDropShortRunWhenExtensionImpossible(t *testing.T) {
	FC, SU := strategy.ForceCharge, strategy.SelfUse
	entries := entriesOf(ppStart, FC)
	predicted := []float64{0.2}

	out := extendOrDropShortRuns(ppParams(), entries, predicted)

	assert.Equal(t, SU, out[0].Mode)
	assert.Contains(t, out[0].Reason, "run dropped")
}

func TestHighSOCBlocksChargeExtension(t *testing.T) {
	FC, SU := strategy.ForceCharge, strategy.SelfUse
	entries := entriesOf(ppStart, SU, FC, SU, SU)
	predicted := []float64{0.95, 0.95, 0.95, 0.95}

	out := extendOrDropShortRuns(ppParams(), entries, predicted)

	// Extending a charge run above the high-SOC threshold is unsafe, so
	// the short run is dropped instead.
	assert.Equal(t, []strategy.Mode{SU, SU, SU, SU}, modesOf(out))
	assert.Contains(t, out[1].Reason, "run dropped")
}

func TestHighSOCDoesNotBlockDischargeExtension(t *testing.T) {
	FD, SU := strategy.ForceDischarge, strategy.SelfUse
	entries := entriesOf(ppStart, SU, FD, SU, SU)
	predicted := []float64{0.95, 0.95, 0.95, 0.95}

	out := extendOrDropShortRuns(ppParams(), entries, predicted)

	assert.Equal(t, []strategy.Mode{SU, FD, FD, SU}, modesOf(out))
}

func TestMinimumRunLengthHoldsAfterPostProcessing(t *testing.T) {
	FC, FD, SU, BU := strategy.ForceCharge, strategy.ForceDischarge, strategy.SelfUse, strategy.BackUp
	cases := [][]strategy.Mode{
		{FC, SU, FC, SU, FD, SU, SU, FC, FC, SU},
		{FC, FC, SU, FC, FC, SU, FD, FD, FD, SU},
		{SU, FC, SU, FC, SU, FC, SU, FC, SU, FC},
		{FD, SU, BU, FC, SU, SU, FD, SU, FC, SU},
	}
	params := ppParams()

	for _, modes := range cases {
		entries := entriesOf(ppStart, modes...)
		predicted := make([]float64, len(entries))

		out := mergeNearbyChargeBlocks(params, entries, predicted)
		out = extendOrDropShortRuns(params, out, predicted)

		// Every surviving force run is at least the minimum length.
		i := 0
		for i < len(out) {
			mode := out[i].Mode
			if mode != FC && mode != FD {
				i++
				continue
			}
			j := i
			for j < len(out) && out[j].Mode == mode {
				j++
			}
			assert.GreaterOrEqual(t, j-i, params.MinConsecutiveForceBlocks,
				"run of %s at %d in %v", mode, i, modes)
			i = j
		}
	}
}

func TestGapFillNeverTouchesUserOverrides(t *testing.T) {
	FC, BU := strategy.ForceCharge, strategy.BackUp
	entries := entriesOf(ppStart, FC, FC, BU, FC, FC)
	entries[2].DecisionUID = "user-override:slot-1"
	entries[2].Reason = "User Override: outage expected"
	predicted := make([]float64, len(entries))

	out := mergeNearbyChargeBlocks(ppParams(), entries, predicted)
	out = extendOrDropShortRuns(ppParams(), out, predicted)

	assert.Equal(t, BU, out[2].Mode)
	require.True(t, strings.HasPrefix(out[2].Reason, "User Override"))
}

func TestExtensionNeverTouchesUserOverrides(t *testing.T) {
	FC, SU, BU := strategy.ForceCharge, strategy.SelfUse, strategy.BackUp
	entries := entriesOf(ppStart, BU, FC, BU, SU)
	entries[0].DecisionUID = "user-override:slot-a"
	entries[2].DecisionUID = "user-override:slot-b"
	predicted := make([]float64, len(entries))

	out := extendOrDropShortRuns(ppParams(), entries, predicted)

	// Both override neighbours are untouchable, so the short charge run
	// is dropped rather than extended.
	assert.Equal(t, BU, out[0].Mode)
	assert.Equal(t, SU, out[1].Mode)
	assert.Equal(t, BU, out[2].Mode)
}
