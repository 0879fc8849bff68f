// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package dealer exposes the proofs dealer over REST: cycle queries,
// slashable listings, the spam signal and the challenge queue entry points.
package dealer

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/storagehub/hub/api/restutil"
	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/proofsdealer"
)

type Dealer struct {
	dealer *proofsdealer.ProofsDealer
}

func New(d *proofsdealer.ProofsDealer) *Dealer {
	return &Dealer{d}
}

func (d *Dealer) handleGetTick(w http.ResponseWriter, _ *http.Request) error {
	tick, err := d.dealer.CurrentTick()
	if err != nil {
		return err
	}
	paused, err := d.dealer.Paused()
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, restutil.M{"tick": tick, "paused": paused})
}

func (d *Dealer) handleGetRecord(w http.ResponseWriter, r *http.Request) error {
	id, err := hub.ParseBytes32(mux.Vars(r)["id"])
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "id"))
	}
	rec, err := d.dealer.Record(id)
	if err != nil {
		if errors.Is(err, proofsdealer.ErrNoRecordOfLastSubmittedProof) {
			return restutil.NotFound(err)
		}
		return err
	}
	return restutil.WriteJSON(w, rec)
}

func (d *Dealer) handleGetChallenges(w http.ResponseWriter, r *http.Request) error {
	id, err := hub.ParseBytes32(mux.Vars(r)["id"])
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "id"))
	}
	challenges, err := d.dealer.ExpectedChallenges(id)
	if err != nil {
		if errors.Is(err, proofsdealer.ErrNoRecordOfLastSubmittedProof) {
			return restutil.NotFound(err)
		}
		return restutil.BadRequest(err)
	}
	type challenge struct {
		Key          hub.Bytes32 `json:"key"`
		Count        uint32      `json:"count"`
		ShouldRemove bool        `json:"shouldRemove"`
	}
	out := make([]challenge, 0, len(challenges))
	for _, ch := range challenges {
		out = append(out, challenge{Key: ch.Key, Count: ch.Count, ShouldRemove: ch.ShouldRemove})
	}
	return restutil.WriteJSON(w, out)
}

func (d *Dealer) handleGetTickChallenges(w http.ResponseWriter, r *http.Request) error {
	n, err := strconv.ParseUint(mux.Vars(r)["tick"], 10, 32)
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "tick"))
	}
	challenges, err := d.dealer.ChallengesForTick(uint32(n))
	if err != nil {
		if errors.Is(err, proofsdealer.ErrSeedNotFound) {
			return restutil.NotFound(err)
		}
		return err
	}
	type challenge struct {
		Key          hub.Bytes32 `json:"key"`
		Count        uint32      `json:"count"`
		ShouldRemove bool        `json:"shouldRemove"`
	}
	out := make([]challenge, 0, len(challenges))
	for _, ch := range challenges {
		out = append(out, challenge{Key: ch.Key, Count: ch.Count, ShouldRemove: ch.ShouldRemove})
	}
	return restutil.WriteJSON(w, out)
}

func (d *Dealer) handleGetSlashable(w http.ResponseWriter, _ *http.Request) error {
	all, err := d.dealer.SlashableProviders()
	if err != nil {
		return err
	}
	type entry struct {
		Provider       hub.Bytes32 `json:"provider"`
		MissedDeadline uint32      `json:"missedDeadline"`
	}
	out := make([]entry, 0, len(all))
	for id, missed := range all {
		out = append(out, entry{Provider: id, MissedDeadline: missed})
	}
	return restutil.WriteJSON(w, out)
}

func (d *Dealer) handleGetSpamSignal(w http.ResponseWriter, _ *http.Request) error {
	attack, err := d.dealer.NetworkPresumablyUnderAttack()
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, restutil.M{"underAttack": attack})
}

func (d *Dealer) handleGetSubmitters(w http.ResponseWriter, r *http.Request) error {
	n, err := strconv.ParseUint(mux.Vars(r)["tick"], 10, 32)
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "tick"))
	}
	subs, err := d.dealer.ValidSubmitters(uint32(n))
	if err != nil {
		return err
	}
	if subs == nil {
		subs = []hub.Bytes32{}
	}
	return restutil.WriteJSON(w, subs)
}

type queueRequest struct {
	Who             hub.Address `json:"who"`
	Key             hub.Bytes32 `json:"key"`
	Priority        bool        `json:"priority"`
	ShouldRemoveKey bool        `json:"shouldRemoveKey"`
}

func (d *Dealer) handlePostChallenge(w http.ResponseWriter, r *http.Request) error {
	var req queueRequest
	if err := restutil.ParseJSON(r.Body, &req); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	var err error
	if req.Priority {
		err = d.dealer.QueuePriorityChallenge(req.Who, req.Key, req.ShouldRemoveKey)
	} else {
		err = d.dealer.QueueChallenge(req.Who, req.Key)
	}
	if err != nil {
		switch {
		case errors.Is(err, proofsdealer.ErrChallengesQueueOverflow),
			errors.Is(err, proofsdealer.ErrPriorityChallengesQueueOverflow):
			return restutil.HTTPError(err, http.StatusTooManyRequests)
		default:
			return restutil.BadRequest(err)
		}
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (d *Dealer) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/tick").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(d.handleGetTick))
	sub.Path("/providers/{id}/record").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(d.handleGetRecord))
	sub.Path("/providers/{id}/challenges").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(d.handleGetChallenges))
	sub.Path("/ticks/{tick}/challenges").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(d.handleGetTickChallenges))
	sub.Path("/slashable").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(d.handleGetSlashable))
	sub.Path("/spam").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(d.handleGetSpamSignal))
	sub.Path("/submitters/{tick}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(d.handleGetSubmitters))
	sub.Path("/challenges").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(d.handlePostChallenge))
}
