// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proofsdealer

import "github.com/pkg/errors"

// Caller precondition errors. The operation is rejected before any state
// change.
var (
	ErrNotProvider              = errors.New("caller is not a registered provider")
	ErrZeroStake                = errors.New("provider stake is zero")
	ErrProviderStakeNotFound    = errors.New("provider stake not found")
	ErrChallengesTickNotReached = errors.New("challenges tick not yet reached")
	ErrChallengesTickTooOld     = errors.New("challenges tick too old")
	ErrChallengesTickTooLate    = errors.New("challenges tick too late")
	ErrEmptyKeyProofs           = errors.New("proof contains no key proofs")
	ErrIncorrectNumberOfProofs  = errors.New("incorrect number of key proofs for challenged key")
)

// Proof content errors. The submission is rejected, no state change.
var (
	ErrForestProofVerificationFailed = errors.New("forest proof verification failed")
	ErrKeyProofNotFound              = errors.New("no key proof for challenged key")
	ErrKeyProofVerificationFailed    = errors.New("key proof verification failed")
	ErrZeroRoot                      = errors.New("provider root is zero")
	ErrProviderRootNotFound          = errors.New("provider root not found")
)

// History retention errors. The data was legitimately pruned; the submitter
// missed the tolerance window.
var (
	ErrSeedNotFound                 = errors.New("challenge seed not found")
	ErrCheckpointChallengesNotFound = errors.New("checkpoint challenges not found")
)

// Capacity errors. The system is protecting its per-tick weight bounds.
var (
	ErrChallengesQueueOverflow         = errors.New("challenges queue overflow")
	ErrPriorityChallengesQueueOverflow = errors.New("priority challenges queue overflow")
	ErrTooManyValidProofSubmitters     = errors.New("too many valid proof submitters in tick")
)

// Internal consistency errors. These indicate a bug or corrupted state and
// are surfaced rather than swallowed.
var (
	ErrFailedToApplyDelta                    = errors.New("failed to apply mutations to provider root")
	ErrUnexpectedNumberOfRemoveMutations     = errors.New("unexpected number of remove mutations")
	ErrFailedToUpdateProviderAfterKeyRemoval = errors.New("failed to update provider after key removal")
	ErrNoRecordOfLastSubmittedProof          = errors.New("no record of last submitted proof")
)
