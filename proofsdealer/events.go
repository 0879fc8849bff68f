// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proofsdealer

import (
	"github.com/ethereum/go-ethereum/event"

	"github.com/storagehub/hub/forest"
	"github.com/storagehub/hub/hub"
)

// Event envelopes every notification the dealer publishes. All events travel
// through one feed, and event.Feed requires a single concrete element type,
// so subscribers switch on Data.
type Event struct {
	Data any
}

// NewChallengeSeedEvent is published when a tick's seed is generated.
type NewChallengeSeedEvent struct {
	Tick uint32
	Seed hub.Bytes32
}

// NewCheckpointChallengeEvent is published when a checkpoint round folds
// queued challenges in.
type NewCheckpointChallengeEvent struct {
	Tick       uint32
	Challenges []CustomChallenge
}

// NewChallengeEvent is published when a manual challenge is queued.
type NewChallengeEvent struct {
	Who hub.Address
	Key hub.Bytes32
}

// NewPriorityChallengeEvent is published when a priority challenge is queued.
type NewPriorityChallengeEvent struct {
	Who             hub.Address
	Key             hub.Bytes32
	ShouldRemoveKey bool
}

// ProofAcceptedEvent is published on a successful proof submission.
type ProofAcceptedEvent struct {
	Provider   hub.Bytes32
	Proof      *Proof
	TickProven uint32
}

// SlashableProviderEvent is published when a provider misses its deadline and
// is marked slashable.
type SlashableProviderEvent struct {
	Provider       hub.Bytes32
	MissedDeadline uint32
	NextDeadline   uint32
}

// NoRecordOfLastSubmittedProofEvent is published when a scheduled provider
// turns out to have no submission record, e.g. after an out-of-band removal.
type NoRecordOfLastSubmittedProofEvent struct {
	Provider hub.Bytes32
}

// NewChallengeCycleInitialisedEvent is published when a provider's challenge
// cycle is (re)initialised.
type NewChallengeCycleInitialisedEvent struct {
	Provider hub.Bytes32
	Owner    hub.Address
	Deadline uint32
}

// MutationsAppliedForProviderEvent is published when accepted mutations move
// a provider's committed root.
type MutationsAppliedForProviderEvent struct {
	Provider  hub.Bytes32
	Mutations []forest.Mutation
	OldRoot   hub.Bytes32
	NewRoot   hub.Bytes32
}

// MutationsAppliedEvent is the provider-agnostic companion of
// MutationsAppliedForProviderEvent.
type MutationsAppliedEvent struct {
	Mutations []forest.Mutation
}

// ChallengesTickerSetEvent is published when the ticker is paused or resumed.
type ChallengesTickerSetEvent struct {
	Paused bool
}

// SubscribeEvents subscribes ch to all dealer events.
func (d *ProofsDealer) SubscribeEvents(ch chan<- Event) event.Subscription {
	return d.scope.Track(d.feed.Subscribe(ch))
}

func (d *ProofsDealer) emit(ev any) {
	d.feed.Send(Event{Data: ev})
}
