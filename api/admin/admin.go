// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package admin exposes the dealer's administrative surface: pausing the
// ticker, force initialising challenge cycles and executing slashes.
package admin

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/storagehub/hub/api/restutil"
	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/proofsdealer"
)

type Admin struct {
	dealer *proofsdealer.ProofsDealer
}

func New(d *proofsdealer.ProofsDealer) *Admin {
	return &Admin{d}
}

func (a *Admin) handlePostPause(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := restutil.ParseJSON(r.Body, &req); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	if err := a.dealer.SetPaused(req.Paused); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (a *Admin) handlePostCycle(w http.ResponseWriter, r *http.Request) error {
	id, err := hub.ParseBytes32(mux.Vars(r)["id"])
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "id"))
	}
	if err := a.dealer.InitialiseChallengeCycle(id); err != nil {
		if errors.Is(err, proofsdealer.ErrProviderStakeNotFound) {
			return restutil.NotFound(err)
		}
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (a *Admin) handleDeleteCycle(w http.ResponseWriter, r *http.Request) error {
	id, err := hub.ParseBytes32(mux.Vars(r)["id"])
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "id"))
	}
	if err := a.dealer.StopChallengeCycle(id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (a *Admin) handlePostSlash(w http.ResponseWriter, r *http.Request) error {
	id, err := hub.ParseBytes32(mux.Vars(r)["id"])
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "id"))
	}
	remaining, err := a.dealer.Slash(id)
	if err != nil {
		if errors.Is(err, proofsdealer.ErrNotSlashable) {
			return restutil.BadRequest(err)
		}
		return err
	}
	return restutil.WriteJSON(w, restutil.M{"remainingStake": remaining.String()})
}

func (a *Admin) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/pause").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(a.handlePostPause))
	sub.Path("/providers/{id}/cycle").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(a.handlePostCycle))
	sub.Path("/providers/{id}/cycle").Methods(http.MethodDelete).HandlerFunc(restutil.WrapHandlerFunc(a.handleDeleteCycle))
	sub.Path("/providers/{id}/slash").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(a.handlePostSlash))
}
