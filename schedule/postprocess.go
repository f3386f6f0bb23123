package schedule

import (
	"fmt"
	"strings"

	"github.com/kestrelhome/battplan/strategy"
)

// mergeNearbyChargeBlocks is the first post-processing step: scan for
// ForceCharge runs separated by a short gap of non-force blocks and, if
// the gap contains no ForceDischarge and no user override, rewrite the
// whole gap to ForceCharge.
func mergeNearbyChargeBlocks(params Params, entries []ScheduledMode, predicted []float64) []ScheduledMode {
	n := len(entries)
	for i := 0; i < n; i++ {
		if entries[i].Mode != strategy.ForceCharge {
			continue
		}
		j := i + 1
		for j < n && entries[j].Mode != strategy.ForceCharge {
			j++
		}
		if j >= n {
			break
		}
		gapLen := j - i - 1
		if gapLen < 1 || gapLen > params.MaxGapBlocks || gapLen > params.MinConsecutiveForceBlocks {
			continue
		}

		onlyDefault := true
		for k := i + 1; k < j; k++ {
			if entries[k].Mode == strategy.ForceDischarge || isUserOverride(entries[k]) {
				onlyDefault = false
				break
			}
		}
		if !onlyDefault {
			continue
		}

		for k := i + 1; k < j; k++ {
			entries[k].Mode = strategy.ForceCharge
			entries[k].Reason = "gap-filled (EEPROM protection): " + entries[k].Reason
			entries[k].DecisionUID = "eeprom-gap-fill:" + entries[k].DecisionUID
		}
	}
	return entries
}

// extendOrDropShortRuns is the second post-processing step: every maximal
// run of ForceCharge/ForceDischarge shorter than MinConsecutiveForceBlocks
// is either extended into adjacent default-mode blocks (right, then left)
// until it reaches the minimum, or, when that is unsafe (a ForceCharge run
// starting above HighSOCThreshold) or impossible (hits the horizon edge or
// another force run), dropped entirely to the configured default mode.
func extendOrDropShortRuns(params Params, entries []ScheduledMode, predicted []float64) []ScheduledMode {
	n := len(entries)
	for i := 0; i < n; {
		mode := entries[i].Mode
		if mode != strategy.ForceCharge && mode != strategy.ForceDischarge {
			i++
			continue
		}

		j := i
		for j < n && entries[j].Mode == mode {
			j++
		}
		runLen := j - i
		if runLen >= params.MinConsecutiveForceBlocks {
			i = j
			continue
		}

		// A run containing user-override blocks is the user's call, not a
		// strategy burst; leave it alone.
		overridden := false
		for k := i; k < j; k++ {
			if isUserOverride(entries[k]) {
				overridden = true
				break
			}
		}
		if overridden {
			i = j
			continue
		}

		unsafeToExtend := mode == strategy.ForceCharge && predictedSOCAt(predicted, i) > params.HighSOCThreshold
		if unsafeToExtend {
			dropRun(params, entries, i, j)
			i = j
			continue
		}

		need := params.MinConsecutiveForceBlocks - runLen
		extendedEnd := j
		for need > 0 && extendedEnd < n && isExtendable(entries[extendedEnd]) {
			entries[extendedEnd].Mode = mode
			entries[extendedEnd].Reason = "run-extended (EEPROM protection): " + entries[extendedEnd].Reason
			extendedEnd++
			need--
		}
		extendedStart := i
		for need > 0 && extendedStart > 0 && isExtendable(entries[extendedStart-1]) {
			extendedStart--
			entries[extendedStart].Mode = mode
			entries[extendedStart].Reason = "run-extended (EEPROM protection): " + entries[extendedStart].Reason
			need--
		}

		if need == 0 {
			i = extendedEnd
			continue
		}

		// Extension couldn't reach the minimum: revert whatever was
		// tentatively extended and drop the whole (now-bounded) run.
		dropRun(params, entries, extendedStart, extendedEnd)
		i = extendedEnd
	}
	return entries
}

func dropRun(params Params, entries []ScheduledMode, from, to int) {
	for idx := from; idx < to; idx++ {
		entries[idx].Mode = params.DefaultBatteryMode
		entries[idx].Reason = fmt.Sprintf("run dropped (too short to protect EEPROM, min=%d): %s", params.MinConsecutiveForceBlocks, entries[idx].Reason)
	}
}

func isDefaultMode(m strategy.Mode) bool {
	return m == strategy.SelfUse || m == strategy.BackUp
}

// isUserOverride reports whether the entry came from a fixed slot; those
// blocks belong to the user and post-processing never rewrites them.
func isUserOverride(e ScheduledMode) bool {
	return strings.HasPrefix(e.DecisionUID, "user-override:")
}

func isExtendable(e ScheduledMode) bool {
	return isDefaultMode(e.Mode) && !isUserOverride(e)
}
