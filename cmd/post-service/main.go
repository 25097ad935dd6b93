// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command post-service runs the Client state machine: it connects out
// to a coordinator, serves GenProof requests against a
// local data directory, and reconnects on transport loss.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/shellpost/post/client"
	"github.com/shellpost/post/config"
	"github.com/shellpost/post/internal/postrs/randomx"
	"github.com/shellpost/post/persistence"
	"github.com/shellpost/post/proving"
	"github.com/shellpost/post/service"
	"github.com/shellpost/post/shared"
	"github.com/shellpost/post/verification"
)

// loadMetadataForVerify reloads the data directory's metadata for each
// local verification pass; metadata is small and this keeps the client
// package free of any direct persistence dependency.
func loadMetadataForVerify(dir string) (*shared.PostMetadata, error) {
	return persistence.LoadMetadata(dir)
}

type options struct {
	Dir                string `long:"dir" description:"initialized PoST data directory" required:"true"`
	Address            string `long:"address" description:"coordinator address (host:port)" required:"true"`
	ReconnectIntervalS int    `long:"reconnect-interval-s" description:"seconds between reconnect attempts" default:"5"`
	MaxRetries         int    `long:"max-retries" description:"stop after this many consecutive connect failures (0 = unlimited)" default:"0"`

	NodeID          string `long:"node-id" description:"base64-encoded node id" required:"true"`
	CommitmentAtxID string `long:"commitment-atx-id" description:"base64-encoded commitment ATX id" required:"true"`
	K1              uint32 `long:"k1" description:"proving scan hit target" default:"26"`
	K2              uint32 `long:"k2" description:"seal hit count" default:"37"`
	K3              uint32 `long:"k3" description:"verifier sample count" default:"37"`
	NonceTotal      uint32 `long:"nonce-total" description:"nonces scanned per proof attempt, multiple of 16" default:"256"`
	ScryptN         uint    `long:"scrypt-n" description:"scrypt N for k2/k3 pow" default:"8192"`
	FastRandomX     bool   `long:"fast-randomx" description:"build the full RandomX dataset (more memory, faster proving)"`

	LogDir string `long:"logdir" description:"directory for rotating log files" default:"./logs"`
	Debug  bool   `long:"debug" description:"enable debug logging"`

	WatchPID int `long:"watch-pid" description:"exit once this process id is no longer alive" default:"0"`

	TLS tlsFlags `group:"TLS options"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	logger, closeLog, err := newLogger(opts.LogDir, opts.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closeLog()

	nodeID, err := base64.StdEncoding.DecodeString(opts.NodeID)
	if err != nil {
		return fmt.Errorf("invalid --node-id: %w", err)
	}
	commitmentAtxID, err := base64.StdEncoding.DecodeString(opts.CommitmentAtxID)
	if err != nil {
		return fmt.Errorf("invalid --commitment-atx-id: %w", err)
	}

	tlsConfig, err := buildTLSConfig(opts.TLS)
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	cfg.K1, cfg.K2, cfg.K3 = opts.K1, opts.K2, opts.K3
	cfg.Scrypt.N = opts.ScryptN

	pow, err := randomx.New(opts.FastRandomX)
	if err != nil {
		return fmt.Errorf("failed to initialize randomx: %w", err)
	}
	defer pow.Close()

	prover := proving.NewProver(opts.Dir, cfg, pow)

	meta := service.ProofMetadata{
		NodeId:          nodeID,
		CommitmentAtxId: commitmentAtxID,
	}
	svc := service.New(prover, opts.NonceTotal, meta, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, shutting down")
		cancel()
	}()

	if opts.WatchPID != 0 {
		term := make(chan struct{})
		defer close(term)
		watched := client.WatchPID(opts.WatchPID, term)
		go func() {
			<-watched
			logger.Info("watched pid no longer alive, shutting down", zap.Int("pid", opts.WatchPID))
			cancel()
		}()
	}

	clientCfg := client.Config{
		Address:           opts.Address,
		SmesherID:         nodeID,
		ReconnectInterval: time.Duration(opts.ReconnectIntervalS) * time.Second,
		MaxRetries:        opts.MaxRetries,
		Verify: func(challenge [32]byte, proof *proving.Proof) error {
			loadedMeta, loadErr := loadMetadataForVerify(opts.Dir)
			if loadErr != nil {
				return loadErr
			}
			return verification.Verify(proof, loadedMeta, cfg, challenge, pow)
		},
	}
	c := client.New(clientCfg, svc, tlsConfig, logger)

	logger.Info("post-service starting", zap.String("address", opts.Address), zap.String("dir", opts.Dir))
	err = c.Run(ctx)
	svc.Shutdown()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
