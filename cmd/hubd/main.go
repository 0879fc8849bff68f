// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/storagehub/hub/api"
	"github.com/storagehub/hub/co"
	"github.com/storagehub/hub/kv"
	"github.com/storagehub/hub/log"
	"github.com/storagehub/hub/metrics"
	"github.com/storagehub/hub/proofsdealer"
	"github.com/storagehub/hub/providers"
)

var (
	version   string
	gitCommit string
	gitTag    string

	logger = log.WithContext("pkg", "hubd")
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%.8s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "hubd",
		Usage:     "StorageHub proofs dealer daemon",
		Copyright: "2025 The StorageHub developers",
		Flags: []cli.Flag{
			dataDirFlag,
			configFlag,
			apiAddrFlag,
			apiCorsFlag,
			tickIntervalFlag,
			verbosityFlag,
			jsonLogsFlag,
			enableAPILogsFlag,
			enableMetricsFlag,
			pprofFlag,
		},
		Action: defaultAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultAction(ctx *cli.Context) error {
	defer func() { logger.Info("exited") }()

	initLogger(ctx)

	cfg := proofsdealer.DefaultConfig()
	if path := ctx.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = proofsdealer.LoadConfig(path); err != nil {
			fatal("load config:", err)
		}
	}

	dataDir := makeDataDir(ctx)

	store, err := kv.New(filepath.Join(dataDir, "dealer.db"), kv.Options{
		CacheSize:              128,
		OpenFilesCacheCapacity: 512,
	})
	if err != nil {
		fatal("open database:", err)
	}
	defer func() { logger.Info("closing database..."); store.Close() }()

	beacon, err := loadOrGenerateBeaconKey(dataDir)
	if err != nil {
		fatal("load beacon key:", err)
	}

	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
	}

	registry := providers.NewRegistry(store)
	dealer, err := proofsdealer.New(cfg, store, registry, beacon)
	if err != nil {
		fatal("init proofs dealer:", err)
	}
	defer func() { logger.Info("closing proofs dealer..."); dealer.Close() }()

	apiSrv, apiURL, err := startAPIServer(ctx, api.New(dealer, registry, api.Options{
		AllowedOrigins:  ctx.String(apiCorsFlag.Name),
		PprofOn:         ctx.Bool(pprofFlag.Name),
		EnableMetrics:   ctx.Bool(enableMetricsFlag.Name),
		EnableReqLogger: ctx.Bool(enableAPILogsFlag.Name),
	}))
	if err != nil {
		fatal("start API server:", err)
	}
	defer func() { logger.Info("stopping API server..."); apiSrv.Shutdown(context.Background()) }()

	printStartupMessage(ctx, dealer, beaconPublicKey(beacon.PublicKey()), dataDir, apiURL)

	exitCtx := handleExitSignal()
	var goes co.Goes
	goes.Go(func() {
		runTicker(exitCtx, dealer, time.Duration(ctx.Uint64(tickIntervalFlag.Name))*time.Second)
	})
	goes.Wait()
	return nil
}

func startAPIServer(ctx *cli.Context, handler http.HandlerFunc) (*http.Server, string, error) {
	addr := ctx.String(apiAddrFlag.Name)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}
	srv := &http.Server{Handler: handler}
	go func() {
		srv.Serve(listener)
	}()
	return srv, "http://" + listener.Addr().String() + "/", nil
}

// runTicker advances the dealer's tick at the configured wall-clock interval
// until the context is cancelled.
func runTicker(ctx context.Context, dealer *proofsdealer.ProofsDealer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := dealer.AdvanceTick(); err != nil {
				logger.Error("failed to advance tick", "err", err)
				continue
			}
			now, err := dealer.CurrentTick()
			if err != nil {
				logger.Error("failed to read current tick", "err", err)
				continue
			}
			logger.Debug("tick advanced", "tick", now)
		}
	}
}

func printStartupMessage(ctx *cli.Context, dealer *proofsdealer.ProofsDealer, beaconPub, dataDir, apiURL string) {
	tick, err := dealer.CurrentTick()
	if err != nil {
		fatal("read current tick:", err)
	}
	fmt.Printf(`Starting %v
    Current tick  [ %v ]
    Tick interval [ %vs ]
    Beacon key    [ %v ]
    Data dir      [ %v ]
    API portal    [ %v ]
`,
		"hubd "+fullVersion(),
		tick,
		ctx.Uint64(tickIntervalFlag.Name),
		beaconPub,
		dataDir,
		apiURL)
}
