// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command initializer drives a single PoST data-set initialization
// or lists the providers available to compute one.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/shellpost/post/config"
	"github.com/shellpost/post/initialization"
	"github.com/shellpost/post/internal/postrs"
)

type initializeCmd struct {
	N                uint   `long:"n" description:"scrypt N parameter (power of two)" default:"8192"`
	Labels           uint64 `long:"labels" description:"labels per unit" required:"true"`
	NumUnits         uint32 `long:"num-units" description:"number of units to initialize" default:"1"`
	NodeID           string `long:"node-id" description:"base64-encoded node id" required:"true"`
	CommitmentAtxID  string `long:"commitment-atx-id" description:"base64-encoded commitment ATX id" required:"true"`
	Output           string `long:"output" description:"output data directory" required:"true"`
	Provider         uint   `long:"provider" description:"provider id (0 = CPU)" default:"0"`
	MaxFileSize      uint64 `long:"max-file-size" description:"max bytes per chunk file" default:"1073741824"`
	ComputeBatchSize uint64 `long:"batch-size" description:"labels computed per batch" default:"16384"`
	LogDir           string `long:"logdir" description:"directory for rotating log files" default:"./logs"`
	Debug            bool   `long:"debug" description:"enable debug logging"`
}

func (c *initializeCmd) Execute(_ []string) error {
	logger, closeLog, err := newLogger(c.LogDir, c.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closeLog()

	nodeID, err := base64.StdEncoding.DecodeString(c.NodeID)
	if err != nil {
		return fmt.Errorf("invalid --node-id: %w", err)
	}
	commitmentAtxID, err := base64.StdEncoding.DecodeString(c.CommitmentAtxID)
	if err != nil {
		return fmt.Errorf("invalid --commitment-atx-id: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.LabelsPerUnit = c.Labels
	cfg.Scrypt.N = c.N

	opts := config.DefaultInitOpts()
	opts.DataDir = c.Output
	opts.NumUnits = c.NumUnits
	opts.MaxFileSize = c.MaxFileSize
	opts.ComputeBatchSize = c.ComputeBatchSize
	opts.ProviderID = c.Provider

	init, err := initialization.NewInitializer(
		initialization.WithNodeId(nodeID),
		initialization.WithCommitmentAtxId(commitmentAtxID),
		initialization.WithConfig(cfg),
		initialization.WithInitOpts(opts),
		initialization.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create initializer: %w", err)
	}

	logger.Info("starting initialization",
		zap.String("output", c.Output),
		zap.Uint64("labelsPerUnit", c.Labels),
		zap.Uint32("numUnits", c.NumUnits),
	)

	if err := init.Initialize(context.Background()); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	logger.Info("initialization complete", zap.Uint64("labelsWritten", init.NumLabelsWritten()))
	return nil
}

type listProvidersCmd struct{}

func (c *listProvidersCmd) Execute(_ []string) error {
	fmt.Printf("%d\tCPU\n", postrs.CPUProviderID)
	providers, err := postrs.OpenCLProviders()
	if err != nil {
		return fmt.Errorf("failed to enumerate OpenCL providers: %w", err)
	}
	for _, p := range providers {
		fmt.Printf("%d\t%s\n", p.ID(), p.Name())
	}
	return nil
}

func main() {
	var opts struct {
		Initialize    initializeCmd    `command:"initialize" description:"initialize a PoST data set"`
		ListProviders listProvidersCmd `command:"list-providers" description:"list available compute providers"`
	}

	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
