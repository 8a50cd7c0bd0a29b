// Package snapshot holds the pure decision function that selects which item
// observations become time-series snapshots, and the reason labels it
// assigns.
package snapshot

import (
	"github.com/hnfoundry/hnarchive/internal/types"
)

// scoreSpikeDelta is the minimum score gain between two observations that
// forces a snapshot regardless of the sampling cadence.
const scoreSpikeDelta = 20

// sampleEvery snapshots every Nth observation of a changed item.
const sampleEvery = 4

// Decision is the policy outcome for one upsert.
type Decision struct {
	Emit   bool
	Reason types.SnapshotReason
}

// Decide applies the snapshot rules in order. old is the stored row prior to
// this upsert (nil for new items), updateCount is the observation counter
// after the upsert, and changed reports whether any content field differed.
//
// The rules, first match wins:
//  1. new front-page item           -> new_item
//  2. content unchanged             -> no snapshot
//  3. score gained >= 20 since old  -> score_spike
//  4. every 4th observation         -> sample
//  5. on the front page             -> front_page
func Decide(old *types.Item, item types.EnrichedItem, updateCount int64, changed bool) Decision {
	if old == nil && item.IsFrontPage {
		return Decision{Emit: true, Reason: types.ReasonNewItem}
	}
	if !changed {
		return Decision{}
	}
	if old != nil && item.ScoreValue()-old.ScoreValue() >= scoreSpikeDelta {
		return Decision{Emit: true, Reason: types.ReasonScoreSpike}
	}
	if updateCount > 0 && updateCount%sampleEvery == 0 {
		return Decision{Emit: true, Reason: types.ReasonSample}
	}
	if item.IsFrontPage {
		return Decision{Emit: true, Reason: types.ReasonFrontPage}
	}
	return Decision{}
}

// FilterReason keeps only snapshots with the given reason. The backfill
// pipeline uses it to discard sample and front_page snapshots for older
// items after the policy has run.
func FilterReason(snaps []types.Snapshot, reason types.SnapshotReason) []types.Snapshot {
	out := make([]types.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if s.Reason == reason {
			out = append(out, s)
		}
	}
	return out
}
