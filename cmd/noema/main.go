// Package main provides the noema binary entry point. Noema is the
// knowledge core of a personal-assistant agent: a semantic procedural
// knowledge graph with a DAG executor and a pattern-evolution engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "noema"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	logLevel := slog.LevelInfo
	if os.Getenv("NOEMA_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           appName,
		Short:         "Semantic procedural knowledge graph for a personal assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	app := newApp(logger)
	root.AddCommand(
		newValidateCmd(app),
		newIngestCmd(app),
		newRunCmd(app),
		newMatchCmd(app),
		newWatchCmd(app),
		newVersionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the noema version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", appName, Version)
		},
	}
}
