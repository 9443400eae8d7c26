package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/versolabs/noema/executor"
	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/procedure"
	"github.com/versolabs/noema/storage"
)

func newValidateCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a procedure description (YAML or JSON)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			result := procedure.ValidateBytes(data)
			if result.Valid {
				cmd.Printf("%s: valid\n", args[0])
				return nil
			}
			for _, issue := range result.Errors {
				cmd.Printf("%s: %s\n", args[0], issue)
			}
			return fmt.Errorf("%d validation error(s)", len(result.Errors))
		},
	}
}

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <glob>",
		Short: "Build procedure concepts from files matching a glob (e.g. 'procs/**/*.yaml')",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			matches, err := doublestar.FilepathGlob(args[0])
			if err != nil {
				return fmt.Errorf("expand glob %q: %w", args[0], err)
			}
			if len(matches) == 0 {
				return fmt.Errorf("no files match %q", args[0])
			}
			builder, err := a.builder(cmd.Context())
			if err != nil {
				return err
			}
			failed := 0
			for _, path := range matches {
				uuid, err := ingestFile(cmd, a, builder, path)
				if err != nil {
					cmd.PrintErrf("%s: %v\n", path, err)
					failed++
					continue
				}
				cmd.Printf("%s: %s\n", path, uuid)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(matches))
			}
			return nil
		},
	}
}

func ingestFile(cmd *cobra.Command, a *app, builder *procedure.Builder, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	desc, err := procedure.Parse(data)
	if err != nil {
		return "", err
	}
	prov := graph.NewProvenance("user", 1.0)
	result, err := builder.CreateFromDescription(cmd.Context(), desc, prov)
	if err != nil {
		return "", err
	}
	a.logger.Info("procedure ingested",
		slog.String("path", path),
		slog.String("uuid", result.ProcedureUUID),
		slog.Int("steps", len(result.StepUUIDs)),
		slog.Int("dependency_edges", result.DependencyEdgeCount))
	return result.ProcedureUUID, nil
}

func newRunCmd(a *app) *cobra.Command {
	var contextPairs []string
	cmd := &cobra.Command{
		Use:   "run <procedure-uuid-or-name>",
		Short: "Execute a stored procedure, printing each enqueued command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			exec, err := a.executor(cmd.Context())
			if err != nil {
				return err
			}
			uuid, err := resolveProcedure(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}

			execContext := make(map[string]any, len(contextPairs))
			for _, pair := range contextPairs {
				key, value, found := strings.Cut(pair, "=")
				if !found {
					return fmt.Errorf("invalid --context %q, want key=value", pair)
				}
				execContext[key] = value
			}

			result := exec.Execute(cmd.Context(), uuid, execContext, func(c executor.Command) {
				blob, _ := json.Marshal(c)
				cmd.Println(string(blob))
			})
			cmd.Printf("status: %s (executed %d, skipped %d, errors %d)\n",
				result.Status, len(result.Executed), len(result.Skipped), len(result.Errors))
			for _, stepErr := range result.Errors {
				cmd.PrintErrf("step %s: %s\n", stepErr.ID, stepErr.Message)
			}
			if result.Status == executor.StatusError {
				return fmt.Errorf("procedure could not be loaded")
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&contextPairs, "context", nil, "execution context entries as key=value (repeatable)")
	return cmd
}

// resolveProcedure accepts either a procedure UUID or an exact procedure
// name. Names are resolved through the store; an ambiguous name is an
// error rather than a guess.
func resolveProcedure(ctx context.Context, a *app, ref string) (string, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return "", err
	}
	if _, err := storage.GetConcept(ctx, store, ref); err == nil {
		return ref, nil
	}

	recs, err := store.Search(ctx, storage.Query{
		TopK:    -1,
		Filters: storage.Filters{"kind": string(graph.KindProcedure)},
	})
	if err != nil {
		return "", fmt.Errorf("search procedures: %w", err)
	}
	var uuids []string
	for _, r := range recs {
		if r.Concept != nil && r.Concept.Name == ref {
			uuids = append(uuids, r.Concept.UUID)
		}
	}
	switch len(uuids) {
	case 0:
		return "", fmt.Errorf("no procedure with uuid or name %q", ref)
	case 1:
		return uuids[0], nil
	default:
		return "", fmt.Errorf("procedure name %q is ambiguous (%d matches), use a uuid", ref, len(uuids))
	}
}

func newMatchCmd(a *app) *cobra.Command {
	var formType string
	var topK int
	cmd := &cobra.Command{
		Use:   "match <url> <html-file>",
		Short: "Rank stored patterns against a page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			html, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}
			engine, err := a.patternEngine(cmd.Context())
			if err != nil {
				return err
			}
			matches, err := engine.FindBestPattern(cmd.Context(), args[0], string(html), formType, topK)
			if err != nil {
				return err
			}
			for _, m := range matches {
				cmd.Printf("%.3f  %s  %s\n", m.Score, m.Concept.UUID, m.Concept.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&formType, "form-type", "", "restrict the type-match bonus to this form type")
	cmd.Flags().IntVar(&topK, "top", 5, "number of matches to print")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a directory and re-validate/ingest procedure files on change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			builder, err := a.builder(cmd.Context())
			if err != nil {
				return err
			}
			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			defer func() { _ = watcher.Close() }()

			if err := watcher.Add(args[0]); err != nil {
				return fmt.Errorf("watch %s: %w", args[0], err)
			}
			a.logger.Info("watching for procedure changes", slog.String("dir", args[0]))

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
						continue
					}
					if !isProcedureFile(event.Name) {
						continue
					}
					if uuid, err := ingestFile(cmd, a, builder, event.Name); err != nil {
						cmd.PrintErrf("%s: %v\n", event.Name, err)
					} else {
						cmd.Printf("%s: %s\n", event.Name, uuid)
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					a.logger.Warn("watcher error", slog.String("error", err.Error()))
				}
			}
		},
	}
}

func isProcedureFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
