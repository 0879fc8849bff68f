// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package api assembles the REST surface of the hub daemon.
package api

import (
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/storagehub/hub/api/admin"
	"github.com/storagehub/hub/api/dealer"
	"github.com/storagehub/hub/api/registry"
	"github.com/storagehub/hub/log"
	"github.com/storagehub/hub/metrics"
	"github.com/storagehub/hub/proofsdealer"
	"github.com/storagehub/hub/providers"
)

var logger = log.WithContext("pkg", "api")

type Options struct {
	AllowedOrigins  string
	PprofOn         bool
	EnableMetrics   bool
	EnableReqLogger bool
}

// New returns the assembled api handler.
func New(
	pd *proofsdealer.ProofsDealer,
	reg *providers.Registry,
	opts Options,
) http.HandlerFunc {
	origins := strings.Split(strings.TrimSpace(opts.AllowedOrigins), ",")
	for i, o := range origins {
		origins[i] = strings.ToLower(strings.TrimSpace(o))
	}

	router := mux.NewRouter()

	dealer.New(pd).Mount(router, "/dealer")
	registry.New(reg).Mount(router, "/providers")
	admin.New(pd).Mount(router, "/admin")

	if opts.EnableMetrics {
		router.Path("/metrics").Handler(metrics.HTTPHandler())
	}
	if opts.PprofOn {
		router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		router.HandleFunc("/debug/pprof/trace", pprof.Trace)
		router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	handler := handlers.CompressHandler(router)
	handler = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedHeaders([]string{"content-type"}),
	)(handler)

	if opts.EnableReqLogger {
		handler = requestLoggerHandler(handler, logger)
	}
	return handler.ServeHTTP
}
