// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command fleetd is the entrypoint for the agent fleet core: it loads the
// settings document, builds the vector index, LLM client, agent store and
// executor, serves a small liveness/introspection mux, and runs one demo
// agent end to end.
//
// Usage:
//
//	fleetd run --name researcher --context "covers the harbor beat"
//	fleetd run --name researcher --context "covers the courts beat" --auto
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/inkwell-ai/fleet/pkg/logger"
)

// CLI defines the fleetd command-line interface.
type CLI struct {
	Run RunCmd `cmd:"" help:"Build the fleet core and run one demo agent."`

	DataDir   string `short:"d" help:"Base directory for settings, agent store, and vector index files." type:"path" default:"."`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("fleetd"),
		kong.Description("Agent fleet core: scheduler, streaming LLM client, adaptive retriever."),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, ferr := logger.OpenLogFile(cli.LogFile)
		if ferr != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", ferr)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	err = kctx.Run(&cli, ctx)
	kctx.FatalIfErrorf(err)
}
