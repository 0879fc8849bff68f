// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proofsdealer

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/providers"
)

// Operation weights, in the same unit as Config.MaxTickWeight.
const (
	weightSubmitProof    = 10_000
	weightQueueChallenge = 1_000
)

// expectedChallenges recomputes the challenge set a provider owes for its
// deadline tick: the tick's random challenges plus the newest checkpoint
// round in (lastTickProven, deadline], if one exists.
func (d *ProofsDealer) expectedChallenges(rec *SubmissionRecord, deadline uint32) ([]Challenge, error) {
	seed, ok, err := d.store.seed(deadline)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSeedNotFound
	}
	random := randomKeys(seed, deadline, d.cfg.RandomChallengesPerTick)

	_, checkpoint, found, err := d.store.latestCheckpointIn(rec.LastTickProven, deadline)
	if err != nil {
		return nil, err
	}
	if !found {
		// The round may have existed and been pruned already.
		lastCheckpoint, err := d.store.lastCheckpointTick()
		if err != nil {
			return nil, err
		}
		if lastCheckpoint > rec.LastTickProven && lastCheckpoint <= deadline {
			return nil, ErrCheckpointChallengesNotFound
		}
		now, err := d.store.currentTick()
		if err != nil {
			return nil, err
		}
		if now >= d.cfg.ChallengeHistoryLength && rec.LastTickProven < now-d.cfg.ChallengeHistoryLength {
			return nil, ErrCheckpointChallengesNotFound
		}
	}
	return mergeChallenges(random, checkpoint), nil
}

// ExpectedChallenges returns the challenge set the provider must answer for
// its next deadline. Provers use this to assemble a submission.
func (d *ProofsDealer) ExpectedChallenges(id hub.Bytes32) ([]Challenge, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, err := d.store.record(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoRecordOfLastSubmittedProof
	}
	return d.expectedChallenges(rec, rec.NextTick)
}

// SubmitProof validates a proof for the provider's pending deadline and, on
// success, commits the resulting state changes: staged removals applied to
// the committed root, the submission record and deadline index advanced one
// period and the provider recorded as a valid submitter for the current
// tick.
//
// Any rejection leaves all state unchanged, so the provider may fix its
// proof and retry within the tolerance window.
func (d *ProofsDealer) SubmitProof(id hub.Bytes32, proof *Proof) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.noteWeight(weightSubmitProof)

	p, err := d.registry.Get(id)
	if err != nil {
		if errors.Is(err, providers.ErrNotFound) {
			return ErrNotProvider
		}
		return err
	}
	rec, err := d.store.record(id)
	if err != nil {
		return err
	}
	if rec == nil {
		d.emit(NoRecordOfLastSubmittedProofEvent{Provider: id})
		return ErrNoRecordOfLastSubmittedProof
	}
	now, err := d.store.currentTick()
	if err != nil {
		return err
	}
	deadline := rec.NextTick
	switch {
	case deadline > now && deadline-now > d.cfg.ChallengeTicksTolerance:
		return errors.Wrapf(ErrChallengesTickTooLate, "deadline %d, tick %d", deadline, now)
	case now < deadline:
		return errors.Wrapf(ErrChallengesTickNotReached, "deadline %d, tick %d", deadline, now)
	case now-deadline > d.cfg.ChallengeTicksTolerance:
		return errors.Wrapf(ErrChallengesTickTooOld, "deadline %d, tick %d", deadline, now)
	}

	expected, err := d.expectedChallenges(rec, deadline)
	if err != nil {
		return err
	}
	root, err := d.registry.Root(id)
	if err != nil {
		return ErrProviderRootNotFound
	}

	mutations, answered, err := verifyProof(root, proof, expected)
	if err != nil {
		return err
	}
	var maxRemovals int
	for _, ch := range expected {
		if ch.ShouldRemove {
			maxRemovals++
		}
	}
	if len(mutations) > maxRemovals {
		return errors.Wrapf(ErrUnexpectedNumberOfRemoveMutations, "got %d, at most %d", len(mutations), maxRemovals)
	}
	newRoot, err := applyMutations(root, proof, mutations)
	if err != nil {
		return err
	}

	submitters, err := d.store.validSubmitters(now)
	if err != nil {
		return err
	}
	if uint32(len(submitters)) >= d.cfg.MaxSubmittersPerTick {
		return ErrTooManyValidProofSubmitters
	}

	// Validation done, commit.
	if len(mutations) > 0 {
		if err := d.registry.SetRoot(id, newRoot); err != nil {
			return errors.Wrapf(ErrFailedToUpdateProviderAfterKeyRemoval, "%v", err)
		}
		d.emit(MutationsAppliedForProviderEvent{
			Provider:  id,
			Mutations: mutations,
			OldRoot:   root,
			NewRoot:   newRoot,
		})
		d.emit(MutationsAppliedEvent{Mutations: mutations})
	}

	period, err := d.ChallengePeriod(p.Stake)
	if err != nil {
		return err
	}
	rec.LastTickProven = deadline
	rec.NextTick = deadline + period
	if err := d.store.saveRecord(id, rec); err != nil {
		return err
	}
	if err := d.store.scheduleDeadline(id, rec.NextTick); err != nil {
		return err
	}
	// A pending slashable marking is forgiven by a successful submission.
	if err := d.store.deleteSlashable(id); err != nil {
		return err
	}
	if err := d.store.saveValidSubmitters(now, append(submitters, id)); err != nil {
		return err
	}

	metricsProofsAccepted().Add(1)
	logger.Info("proof accepted",
		"provider", id.AbbrevString(), "tick", deadline, "answered", answered, "next", rec.NextTick)
	d.emit(ProofAcceptedEvent{Provider: id, Proof: proof, TickProven: deadline})
	return nil
}

// QueueChallenge enqueues a manual challenge key for the next checkpoint
// round. Callers that do not own a registered provider pay ChallengesFee
// into the treasury.
func (d *ProofsDealer) QueueChallenge(who hub.Address, key hub.Bytes32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.noteWeight(weightQueueChallenge)

	queue, err := d.store.challengesQueue()
	if err != nil {
		return err
	}
	if uint32(len(queue)) >= d.cfg.ChallengesQueueLength {
		return ErrChallengesQueueOverflow
	}
	if err := d.chargeFee(who, d.cfg.ChallengesFee); err != nil {
		return err
	}
	if err := d.store.saveChallengesQueue(append(queue, key)); err != nil {
		return err
	}
	d.emit(NewChallengeEvent{Who: who, Key: key})
	return nil
}

// QueuePriorityChallenge enqueues a priority challenge, drained before
// regular ones at the next checkpoint round. ShouldRemoveKey marks the key
// for removal on proven absence, which is how file deletions are enforced.
func (d *ProofsDealer) QueuePriorityChallenge(who hub.Address, key hub.Bytes32, shouldRemoveKey bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.noteWeight(weightQueueChallenge)

	queue, err := d.store.priorityQueue()
	if err != nil {
		return err
	}
	if uint32(len(queue)) >= d.cfg.PriorityChallengesQueueLength {
		return ErrPriorityChallengesQueueOverflow
	}
	if err := d.chargeFee(who, d.cfg.PriorityChallengesFee); err != nil {
		return err
	}
	if err := d.store.savePriorityQueue(append(queue, CustomChallenge{Key: key, ShouldRemoveKey: shouldRemoveKey})); err != nil {
		return err
	}
	d.emit(NewPriorityChallengeEvent{Who: who, Key: key, ShouldRemoveKey: shouldRemoveKey})
	return nil
}

// chargeFee charges a queue fee unless the caller owns a registered
// provider.
func (d *ProofsDealer) chargeFee(who hub.Address, fee uint64) error {
	if fee == 0 {
		return nil
	}
	if _, err := d.registry.ByOwner(who); err == nil {
		return nil
	}
	return d.registry.Charge(who, new(big.Int).SetUint64(fee))
}
