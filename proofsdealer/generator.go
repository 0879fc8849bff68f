// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proofsdealer

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/storagehub/hub/hub"
)

// Challenge is one entry of a tick's expected challenge set. Count is how
// many times the key was challenged in the round, random and checkpoint
// occurrences combined.
type Challenge struct {
	Key          hub.Bytes32
	Count        uint32
	ShouldRemove bool
}

// randomKeys derives the tick's random challenge keys from its seed. Pure,
// so any observer can recompute the set.
func randomKeys(seed hub.Bytes32, tick uint32, n uint32) []hub.Bytes32 {
	keys := make([]hub.Bytes32, 0, n)
	for i := uint32(0); i < n; i++ {
		var buf [8]byte
		binary.BigEndian.PutUint32(buf[:4], tick)
		binary.BigEndian.PutUint32(buf[4:], i)
		keys = append(keys, hub.Blake2b(seed.Bytes(), buf[:]))
	}
	return keys
}

// mergeChallenges folds random keys and checkpoint challenges into the
// ordered expected set, aggregating duplicate keys.
func mergeChallenges(random []hub.Bytes32, checkpoint []CustomChallenge) []Challenge {
	index := make(map[hub.Bytes32]int, len(random)+len(checkpoint))
	merged := make([]Challenge, 0, len(random)+len(checkpoint))

	add := func(key hub.Bytes32, shouldRemove bool) {
		if i, ok := index[key]; ok {
			merged[i].Count++
			merged[i].ShouldRemove = merged[i].ShouldRemove || shouldRemove
			return
		}
		index[key] = len(merged)
		merged = append(merged, Challenge{Key: key, Count: 1, ShouldRemove: shouldRemove})
	}

	for _, key := range random {
		add(key, false)
	}
	for _, c := range checkpoint {
		add(c.Key, c.ShouldRemoveKey)
	}
	return merged
}

// generateChallenges produces and persists tick's seed and, on checkpoint
// ticks, drains the challenge queues into a checkpoint round. Called once
// per tick from AdvanceTick, before the deadline scan.
func (d *ProofsDealer) generateChallenges(tick uint32) error {
	seed, err := d.seedSource.SeedForTick(tick)
	if err != nil {
		return errors.Wrap(err, "derive tick seed")
	}
	if err := d.store.saveSeed(tick, seed); err != nil {
		return err
	}
	d.emit(NewChallengeSeedEvent{Tick: tick, Seed: seed})

	lastCheckpoint, err := d.store.lastCheckpointTick()
	if err != nil {
		return err
	}
	if tick-lastCheckpoint < d.cfg.CheckpointChallengePeriod {
		return nil
	}
	challenges, err := d.drainQueues()
	if err != nil {
		return err
	}
	if err := d.store.saveCheckpointChallenges(tick, challenges); err != nil {
		return err
	}
	if err := d.store.saveLastCheckpointTick(tick); err != nil {
		return err
	}
	logger.Debug("checkpoint round", "tick", tick, "challenges", len(challenges))
	d.emit(NewCheckpointChallengeEvent{Tick: tick, Challenges: challenges})
	return nil
}

// ChallengesForTick returns the challenge set issued at the given tick:
// the seed-derived random keys plus, on checkpoint ticks, the checkpoint
// round. Returns ErrSeedNotFound for future or pruned ticks.
func (d *ProofsDealer) ChallengesForTick(tick uint32) ([]Challenge, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seed, ok, err := d.store.seed(tick)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrSeedNotFound, "tick %d", tick)
	}
	random := randomKeys(seed, tick, d.cfg.RandomChallengesPerTick)

	checkpoint, _, err := d.store.checkpointChallenges(tick)
	if err != nil {
		return nil, err
	}
	return mergeChallenges(random, checkpoint), nil
}

// drainQueues takes up to MaxCustomChallengesPerCheckpoint queued entries,
// priority queue first.
func (d *ProofsDealer) drainQueues() ([]CustomChallenge, error) {
	budget := int(d.cfg.MaxCustomChallengesPerCheckpoint)
	drained := make([]CustomChallenge, 0, budget)

	priority, err := d.store.priorityQueue()
	if err != nil {
		return nil, err
	}
	n := min(budget, len(priority))
	drained = append(drained, priority[:n]...)
	if n > 0 {
		if err := d.store.savePriorityQueue(priority[n:]); err != nil {
			return nil, err
		}
	}
	budget -= n

	regular, err := d.store.challengesQueue()
	if err != nil {
		return nil, err
	}
	n = min(budget, len(regular))
	for _, key := range regular[:n] {
		drained = append(drained, CustomChallenge{Key: key})
	}
	if n > 0 {
		if err := d.store.saveChallengesQueue(regular[n:]); err != nil {
			return nil, err
		}
	}
	return drained, nil
}
