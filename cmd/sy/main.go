package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"switchyard/internal/app"
	"switchyard/internal/config"
	"switchyard/internal/db"
	"switchyard/internal/domain"
	"switchyard/internal/executor"
	"switchyard/internal/loader"
	"switchyard/internal/migrate"
	"switchyard/internal/repo"
	"switchyard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sy",
	Short: "Switchyard CLI",
	Long: `Switchyard orchestrates dependent service pipelines.
Given switchyard.yml (services and their dependencies) and a set of changed
files or services, it computes the affected closure, schedules it in waves of
parallel work, and records every run in the workspace history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SWITCHYARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(graphCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage pipeline configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var pipelineID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default switchyard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(pipelineID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&pipelineID, "pipeline-id", "demo", "pipeline identifier")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the parsed configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func graphCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "graph", Short: "Inspect the service graph"}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate edges and detect cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			g, err := loader.Build(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("graph ok: %d node(s)\n", g.Len())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "List nodes and dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			g, err := loader.Build(cfg)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				out := map[string][]string{}
				for _, name := range g.Names() {
					out[name] = g.Node(name).DependsOn
				}
				return printJSON(out)
			}
			t := newTable("NODE", "DEPENDS ON", "PATH")
			for _, name := range g.Names() {
				svc := cfg.Services[name]
				t.AppendRow(table.Row{name, strings.Join(g.Node(name).DependsOn, ", "), svc.SourcePath(name)})
			}
			fmt.Println(t.Render())
			return nil
		},
	})
	return cmd
}

func planCmd() *cobra.Command {
	var changes []string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview the wave decomposition for a change set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o app.Orchestrator) error {
				plan, err := o.Plan(ctx, app.RunOptions{ChangeSet: changes})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plan)
				}
				t := newTable("WAVE", "NODES")
				for i, wave := range plan.Waves {
					t.AppendRow(table.Row{i + 1, strings.Join(wave, ", ")})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&changes, "change", nil, "changed file path or service (repeatable)")
	return cmd
}

func runCmd() *cobra.Command {
	var changes []string
	var concurrency int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute an orchestration run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withOrchestrator(ctx, func(ctx context.Context, o app.Orchestrator) error {
				summary, err := o.Execute(ctx, app.RunOptions{ChangeSet: changes, Concurrency: concurrency})
				if err != nil && summary.RunID == "" {
					return err
				}
				if printErr := printSummary(summary); printErr != nil {
					return printErr
				}
				if err != nil {
					return err
				}
				if summary.State != domain.RunSucceeded {
					return fmt.Errorf("run %s failed", summary.RunID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&changes, "change", nil, "changed file path or service (repeatable)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max parallel nodes (0 = configured value)")
	return cmd
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Inspect run history"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List past runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				runs, err := r.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				t := newTable("RUN", "STATE", "STARTED", "FINISHED", "CHANGES")
				for _, run := range runs {
					t.AppendRow(table.Row{run.ID, run.State, run.StartedAt, run.FinishedAt, strings.Join(run.ChangeSet, ", ")})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o app.Orchestrator) error {
				summary, err := o.Summary(ctx, args[0])
				if err != nil {
					return err
				}
				return printSummary(summary)
			})
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	var limit int
	var runID string
	cmd := &cobra.Command{Use: "log", Short: "Audit event log"}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListEvents(ctx, runID, limit)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "max events")
	tail.Flags().StringVar(&runID, "run", "", "filter by run id")
	cmd.AddCommand(tail)
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o app.Orchestrator) error {
				handler, err := server.New(server.Config{
					Orchestrator: o,
					BasePath:     basePath,
					Auth:         server.AuthConfig{JWTSecret: os.Getenv("SWITCHYARD_JWT_SECRET")},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Switchyard API on http://%s%s (OpenAPI at /openapi.json)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func withOrchestrator(ctx context.Context, fn func(context.Context, app.Orchestrator) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	exec := executor.Command{MaxAttempts: cfg.Pipeline.MaxAttempts}
	return fn(ctx, app.New(conn, cfg, exec))
}

func printSummary(summary domain.RunSummary) error {
	if viper.GetBool("json") {
		return printJSON(summary)
	}
	fmt.Printf("run %s: %s\n", summary.RunID, summary.State)
	t := newTable("NODE", "STATE", "ATTEMPTS", "REASON", "BLOCKED BY")
	for _, res := range summary.Nodes {
		t.AppendRow(table.Row{res.Node, res.State, res.Attempts, res.Reason, strings.Join(res.BlockedBy, ", ")})
	}
	fmt.Println(t.Render())
	return nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(headers))
	return t
}
