// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proofsdealer

import "github.com/storagehub/hub/hub"

// AdvanceTick moves the logical clock one tick forward: it seals the
// elapsed tick's fullness record, generates the new tick's challenges,
// marks overdue providers slashable within the per-tick budget and prunes
// expired history. A no-op while paused.
//
// AdvanceTick degrades instead of failing: when more providers are overdue
// than MaxSlashableProvidersPerTick allows, the excess stays in the deadline
// index and is picked up on subsequent ticks via the resume cursor.
func (d *ProofsDealer) AdvanceTick() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	paused, err := d.store.paused()
	if err != nil {
		return err
	}
	if paused {
		logger.Debug("ticker paused, skipping advance")
		return nil
	}

	now, err := d.store.currentTick()
	if err != nil {
		return err
	}
	tick := now + 1

	full := d.tickWeight+d.cfg.TickWeightHeadroom > d.cfg.MaxTickWeight
	if err := d.store.saveFullness(now, full); err != nil {
		return err
	}
	d.tickWeight = 0

	// Generation always precedes the deadline scan.
	if err := d.generateChallenges(tick); err != nil {
		return err
	}
	if err := d.markOverdue(tick); err != nil {
		return err
	}
	if err := d.prune(tick); err != nil {
		return err
	}
	if err := d.store.saveCurrentTick(tick); err != nil {
		return err
	}
	metricsTicks().Add(1)
	logger.Debug("tick advanced", "tick", tick, "full", full)
	return nil
}

// markOverdue marks providers whose deadline tick fully elapsed (deadline <
// tick) as slashable, at most MaxSlashableProvidersPerTick of them. Marking
// pushes the provider's deadline forward one period so it is not re-flagged
// every tick. The resume cursor remembers the oldest unscanned deadline so
// deferred excess is found without rescanning from zero.
func (d *ProofsDealer) markOverdue(tick uint32) error {
	if tick == 0 {
		return nil
	}
	cursor, err := d.store.slashingCursor()
	if err != nil {
		return err
	}

	type overdue struct {
		deadline uint32
		id       hub.Bytes32
	}
	budget := int(d.cfg.MaxSlashableProvidersPerTick)
	var marked []overdue
	if err := d.store.deadlinesIn(cursor, tick-1, func(deadline uint32, id hub.Bytes32) bool {
		marked = append(marked, overdue{deadline, id})
		return len(marked) < budget
	}); err != nil {
		return err
	}

	for _, o := range marked {
		rec, err := d.store.record(o.id)
		if err != nil {
			return err
		}
		if rec == nil {
			// Removed out of band; drop the stale index entry.
			if err := d.store.clearDeadline(o.id); err != nil {
				return err
			}
			logger.Warn("scheduled provider has no submission record", "provider", o.id.AbbrevString())
			d.emit(NoRecordOfLastSubmittedProofEvent{Provider: o.id})
			continue
		}

		period := rec.NextTick - rec.LastTickProven
		if stake, err := d.registry.Stake(o.id); err == nil {
			if p, err := d.ChallengePeriod(stake); err == nil {
				period = p
			}
		}
		rec.NextTick += period
		if err := d.store.saveRecord(o.id, rec); err != nil {
			return err
		}
		if err := d.store.scheduleDeadline(o.id, rec.NextTick); err != nil {
			return err
		}
		if err := d.store.saveSlashable(o.id, o.deadline); err != nil {
			return err
		}
		metricsSlashableMarked().Add(1)
		logger.Info("provider marked slashable",
			"provider", o.id.AbbrevString(), "missed", o.deadline, "next", rec.NextTick)
		d.emit(SlashableProviderEvent{Provider: o.id, MissedDeadline: o.deadline, NextDeadline: rec.NextTick})
	}

	if len(marked) < budget {
		// Range exhausted.
		cursor = tick
	} else {
		// Budget hit. Unscanned entries at the last deadline may remain.
		cursor = marked[len(marked)-1].deadline
	}
	return d.store.saveSlashingCursor(cursor)
}

// prune drops history outside the retention windows. Pruned data is gone,
// not just ignored: a submission needing it is rejected.
func (d *ProofsDealer) prune(tick uint32) error {
	if tick > d.cfg.ChallengeHistoryLength {
		if err := d.store.pruneHistory(tick - d.cfg.ChallengeHistoryLength); err != nil {
			return err
		}
	}
	if tick > d.cfg.BlockFullnessPeriod {
		if err := d.store.pruneFullness(tick - d.cfg.BlockFullnessPeriod); err != nil {
			return err
		}
	}
	if tick > d.cfg.TargetTicksStorageOfSubmitters {
		if err := d.store.pruneSubmitters(tick - d.cfg.TargetTicksStorageOfSubmitters); err != nil {
			return err
		}
	}
	return nil
}
