package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/timeers/root-website-sub000/internal/app"
	"github.com/timeers/root-website-sub000/internal/config"
	"github.com/timeers/root-website-sub000/internal/lawdiff"
	"github.com/timeers/root-website-sub000/internal/lawyaml"
	"github.com/timeers/root-website-sub000/internal/rbac"
	"github.com/timeers/root-website-sub000/internal/store"
)

// errMismatch makes diff exit non-zero after printing its report.
var errMismatch = errors.New("documents differ")

type options struct {
	databaseURL string
	language    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "lawctl",
		Short:         "Maintain the Law of Root rules database from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "override DATABASE_URL")
	root.PersistentFlags().StringVarP(&opts.language, "lang", "l", "en", "language code")

	root.AddCommand(
		newValidateCmd(),
		newDiffCmd(),
		newExportCmd(opts),
		newUploadCmd(opts),
		newSyncCmd(opts),
		newReindexCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

func (o *options) config() config.Config {
	cfg := config.Load()
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	return cfg
}

// withService builds the runtime, runs fn as an admin and tears it down.
func (o *options) withService(ctx context.Context, fn func(*app.Runtime, *app.Service, rbac.Actor) error) error {
	cfg := o.config()
	rt, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	service := app.NewService(cfg, app.Deps{Repo: rt.Repo, Laws: rt.Laws, Sync: rt.Sync, Search: rt.Search})
	return fn(rt, service, rbac.Actor{ID: "lawctl", Role: rbac.RoleAdmin})
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Parse a rules document and report its groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := readDocument(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, node := range nodes {
				fmt.Fprintf(out, "%s: %d laws\n", node.Name, countLaws(node.Children))
			}
			fmt.Fprintf(out, "%d groups OK\n", len(nodes))
			return nil
		},
	}
}

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff CURRENT UPLOADED",
		Short: "Compare the structure of two rules documents group by group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := readDocument(args[0])
			if err != nil {
				return err
			}
			uploaded, err := readDocument(args[1])
			if err != nil {
				return err
			}
			report := diffDocuments(current, uploaded)
			out := cmd.OutOrStdout()
			if len(report) == 0 {
				fmt.Fprintln(out, "structures match")
				return nil
			}
			names := make([]string, 0, len(report))
			for name := range report {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "%s\n", name)
				for _, line := range report[name] {
					fmt.Fprintf(out, "  %s\n", line)
				}
			}
			return errMismatch
		},
	}
}

// diffDocuments pairs groups by normalized name. Groups present on only one
// side are reported under their own name.
func diffDocuments(current, uploaded []lawyaml.Node) map[string][]string {
	report := map[string][]string{}
	byName := make(map[string]lawyaml.Node, len(current))
	for _, node := range current {
		byName[lawdiff.NormalizeName(node.Name)] = node
	}
	seen := map[string]bool{}
	for _, node := range uploaded {
		key := lawdiff.NormalizeName(node.Name)
		seen[key] = true
		existing, ok := byName[key]
		if !ok {
			report[node.Name] = []string{"group not present in current document"}
			continue
		}
		if mismatches := lawdiff.CompareStructureStrict(existing.Children, node.Children, node.Name); len(mismatches) > 0 {
			report[node.Name] = mismatches
		}
	}
	for _, node := range current {
		if !seen[lawdiff.NormalizeName(node.Name)] {
			report[node.Name] = []string{"group missing from uploaded document"}
		}
	}
	return report
}

func newExportCmd(opts *options) *cobra.Command {
	var includeIDs bool
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the rules of one language as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(_ *app.Runtime, service *app.Service, _ rbac.Actor) error {
				data, err := service.ExportLanguage(cmd.Context(), opts.language, includeIDs)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(output, data, 0o644)
			})
		},
	}
	cmd.Flags().BoolVar(&includeIDs, "ids", false, "include law ids")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newUploadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE",
		Short: "Store a rules document and apply it onto the law tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			return opts.withService(cmd.Context(), func(_ *app.Runtime, service *app.Service, actor rbac.Actor) error {
				file, report, err := service.UploadRules(cmd.Context(), actor, opts.language, data)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "rules file %d (%s) stored\n", file.ID, file.Version)
				if !report.Applied {
					for name, mismatches := range report.Mismatches {
						fmt.Fprintf(out, "%s: %d mismatches\n", name, len(mismatches))
					}
					for _, line := range report.Errors {
						fmt.Fprintf(out, "error: %s\n", line)
					}
					return errors.New("rules were not applied")
				}
				fmt.Fprintf(out, "applied: %d groups created, %d laws updated\n", report.Created, report.Updated)
				return nil
			})
		},
	}
}

func newSyncCmd(opts *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch the newest upstream rules file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(rt *app.Runtime, service *app.Service, actor rbac.Actor) error {
				out := cmd.OutOrStdout()
				if all {
					if rt.Scheduler == nil {
						return errors.New("no upstream rules repository configured")
					}
					updated, err := rt.Scheduler.RunOnce(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%d languages updated\n", updated)
					return nil
				}
				updated, err := service.SyncRules(cmd.Context(), actor, opts.language)
				if err != nil {
					return err
				}
				if updated {
					fmt.Fprintf(out, "%s: new rules file stored\n", opts.language)
				} else {
					fmt.Fprintf(out, "%s: already up to date\n", opts.language)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "sync every language with retries")
	return cmd
}

func newReindexCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(_ *app.Runtime, service *app.Service, actor rbac.Actor) error {
				n, err := service.Reindex(cmd.Context(), actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d laws indexed\n", n)
				return nil
			})
		},
	}
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config()
			if cfg.DatabaseURL == app.MemoryDatabaseURL {
				return errors.New("migrate needs a Postgres database")
			}
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func readDocument(path string) ([]lawyaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	nodes, err := lawyaml.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return nodes, nil
}

func countLaws(nodes []lawyaml.Node) int {
	n := len(nodes)
	for _, node := range nodes {
		n += countLaws(node.Children)
	}
	return n
}
