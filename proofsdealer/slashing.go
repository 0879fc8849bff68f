// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proofsdealer

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/storagehub/hub/hub"
)

// ErrNotSlashable is returned when slashing a provider with no pending
// marking.
var ErrNotSlashable = errors.New("provider is not slashable")

// IsSlashable reports whether a provider currently has a pending slashable
// marking, and if so for which missed deadline.
func (d *ProofsDealer) IsSlashable(id hub.Bytes32) (bool, uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	deadline, ok, err := d.store.slashableDeadline(id)
	if err != nil {
		return false, 0, err
	}
	return ok, deadline, nil
}

// SlashableProviders returns all pending slashable markings, keyed by the
// deadline each provider missed.
func (d *ProofsDealer) SlashableProviders() (map[hub.Bytes32]uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.slashableProviders()
}

// Slash executes the punitive action for a slashable provider: the marking
// is cleared and SlashAmount is deducted from its stake into the treasury.
// Deadline bookkeeping was already advanced when the marking was made.
// Returns the provider's remaining stake.
func (d *ProofsDealer) Slash(id hub.Bytes32) (*big.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok, err := d.store.slashableDeadline(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotSlashable
	}
	if err := d.store.deleteSlashable(id); err != nil {
		return nil, err
	}
	remaining, err := d.registry.Slash(id, new(big.Int).SetUint64(d.cfg.SlashAmount))
	if err != nil {
		return nil, err
	}
	metricsSlashed().Add(1)
	logger.Info("provider slashed", "provider", id.AbbrevString(), "remaining", remaining)
	return remaining, nil
}

// NetworkPresumablyUnderAttack reports the spam signal: true when, over the
// trailing BlockFullnessPeriod ticks, the fraction of not-full ticks fell
// below MinNotFullBlocksRatio. Advisory only; nothing in this subsystem acts
// on it.
func (d *ProofsDealer) NetworkPresumablyUnderAttack() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now, err := d.store.currentTick()
	if err != nil {
		return false, err
	}
	var from uint32
	if now > d.cfg.BlockFullnessPeriod {
		from = now - d.cfg.BlockFullnessPeriod
	}

	var total, notFull int
	for t := from; t < now; t++ {
		full, ok, err := d.store.fullnessAt(t)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		total++
		if !full {
			notFull++
		}
	}
	if total == 0 {
		return false, nil
	}
	return float64(notFull)/float64(total) < d.cfg.MinNotFullBlocksRatio, nil
}
