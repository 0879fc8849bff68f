// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mattn/go-isatty"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/storagehub/hub/log"
	"github.com/storagehub/hub/randomness"
)

func fatal(args ...any) {
	var w io.Writer
	if runningInTerminal() {
		w = os.Stderr
	} else {
		w = io.MultiWriter(os.Stdout, os.Stderr)
	}
	fmt.Fprint(w, "Fatal: ")
	fmt.Fprintln(w, args...)
	os.Exit(1)
}

func runningInTerminal() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

func initLogger(ctx *cli.Context) {
	var level slog.Level
	switch ctx.Int(verbosityFlag.Name) {
	case 0:
		level = slog.LevelError
	case 1:
		level = slog.LevelWarn
	case 2:
		level = slog.LevelInfo
	default:
		level = slog.LevelDebug
	}

	if ctx.Bool(jsonLogsFlag.Name) {
		log.SetHandler(log.JSONHandlerWithLevel(os.Stderr, level))
	} else if runningInTerminal() {
		log.SetHandler(log.NewTerminalHandler(os.Stderr, level, true))
	} else {
		log.SetHandler(log.LogfmtHandlerWithLevel(os.Stderr, level))
	}
}

func defaultDataDir() string {
	if home := homeDir(); home != "" {
		return filepath.Join(home, ".storagehub")
	}
	return ""
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if user, err := os.UserHomeDir(); err == nil {
		return user
	}
	return ""
}

func makeDataDir(ctx *cli.Context) string {
	dir := ctx.String(dataDirFlag.Name)
	if dir == "" {
		fatal(fmt.Sprintf("unable to infer default data dir, use -%s to specify", dataDirFlag.Name))
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		fatal(fmt.Sprintf("create data dir [%v]: %v", dir, err))
	}
	return dir
}

// loadOrGenerateBeaconKey reads the beacon's VRF key from dataDir, creating
// and persisting a fresh one on first run.
func loadOrGenerateBeaconKey(dataDir string) (*randomness.Beacon, error) {
	path := filepath.Join(dataDir, "beacon.key")
	if key, err := crypto.LoadECDSA(path); err == nil {
		return randomness.NewBeacon(key), nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveECDSA(path, key); err != nil {
		return nil, err
	}
	return randomness.NewBeacon(key), nil
}

func beaconPublicKey(key *ecdsa.PublicKey) string {
	return fmt.Sprintf("0x%x", crypto.CompressPubkey(key))
}

func handleExitSignal() context.Context {
	exitSignalCh := make(chan os.Signal, 1)
	signal.Notify(exitSignalCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := <-exitSignalCh
		logger.Info("exit signal received", "signal", sig)
		cancel()
	}()
	return ctx
}
