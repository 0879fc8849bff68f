// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package registry exposes read access to the storage provider registry.
package registry

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/storagehub/hub/api/restutil"
	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/providers"
)

type Registry struct {
	registry *providers.Registry
}

func New(r *providers.Registry) *Registry {
	return &Registry{r}
}

func (x *Registry) handleGetProvider(w http.ResponseWriter, r *http.Request) error {
	id, err := hub.ParseBytes32(mux.Vars(r)["id"])
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "id"))
	}
	p, err := x.registry.Get(id)
	if err != nil {
		if errors.Is(err, providers.ErrNotFound) {
			return restutil.NotFound(err)
		}
		return err
	}
	return restutil.WriteJSON(w, restutil.M{
		"id":           p.ID,
		"owner":        p.Owner,
		"stake":        p.Stake.String(),
		"root":         p.Root,
		"capacity":     p.Capacity,
		"usedCapacity": p.UsedCapacity,
	})
}

func (x *Registry) handleGetTreasury(w http.ResponseWriter, _ *http.Request) error {
	balance, err := x.registry.TreasuryBalance()
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, restutil.M{"balance": balance.String()})
}

func (x *Registry) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/treasury").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(x.handleGetTreasury))
	sub.Path("/{id}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(x.handleGetProvider))
}
