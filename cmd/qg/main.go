package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"qualitygate/internal/app"
	"qualitygate/internal/config"
	"qualitygate/internal/logging"
	"qualitygate/internal/metrics"
	"qualitygate/internal/repo"
	"qualitygate/internal/schedule"
	"qualitygate/internal/server"
)

// Exit codes. A denied gate and a failed report write are told apart so pipelines can
// react differently.
const (
	exitError   = 1
	exitDenied  = 2
	exitPersist = 3
)

// exitCodeError carries a process exit code out of a command.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return exitError
}

var rootCmd = &cobra.Command{
	Use:   "qg",
	Short: "Qualitygate CLI",
	Long: `Qualitygate runs data quality monitors over a dataset and decides whether it may
move to the next pipeline stage.
- Monitors: completeness, outlier and consistency checks configured in quality.yml.
- Report: every run produces a JSON report under output_dir; reports are never overwritten.
- Gate: a report that fails is denied unless --force-quality is given; overrides are logged.
- Exit codes: 0 admitted, 2 denied, 3 report could not be written, 1 anything else.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := logging.Init(viper.GetString("log-level"), os.Stderr)
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("QG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", config.FileName, "config file")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("output-dir", "", "report directory (overrides output_dir)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("output-dir", rootCmd.PersistentFlags().Lookup("output-dir"))
}

func registerCommands() {
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(gateCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(watchCmd())
}

func addSourceFlags(cmd *cobra.Command, src *app.Source) {
	cmd.Flags().StringVarP(&src.Path, "dataset", "d", "", "dataset file (csv, tsv, json) or sqlite database")
	cmd.Flags().StringVar(&src.Format, "format", "", "csv, json, sqlite or postgres (default from extension)")
	cmd.Flags().StringVar(&src.SchemaPath, "schema", "", "YAML list of {name, type} columns")
	cmd.Flags().StringVar(&src.DSN, "dsn", "", "database DSN for sqlite or postgres")
	cmd.Flags().StringVar(&src.Table, "table", "", "database table to check")
	cmd.Flags().StringVar(&src.Query, "query", "", "SQL query whose result is checked")
}

func checkCmd() *cobra.Command {
	var (
		src    app.Source
		force  bool
		noSave bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run every monitor on a dataset and gate the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(nil, func(r *app.Runner) error {
				ctx := cmd.Context()
				ds, err := app.LoadDataset(ctx, src)
				if err != nil {
					return err
				}
				res, err := r.Check(ctx, ds, app.CheckOptions{Force: force, Save: !noSave})
				persistErr := err
				if err != nil && !app.IsPersistError(err) {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(res); err != nil {
						return err
					}
				} else {
					renderCheck(cmd.OutOrStdout(), res)
				}
				switch {
				case persistErr != nil:
					return &exitCodeError{code: exitPersist, err: persistErr}
				case !res.Decision.Admitted:
					return &exitCodeError{code: exitDenied, err: errors.New(res.Decision.Reason)}
				}
				return nil
			})
		},
	}
	addSourceFlags(cmd, &src)
	cmd.Flags().BoolVar(&force, "force-quality", false, "admit the dataset even if checks fail (logged as an override)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not write the report artifact")
	return cmd
}

func gateCmd() *cobra.Command {
	var (
		runID string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate the gate for a stored report (latest by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(nil, func(r *app.Runner) error {
				stored, d, err := r.GateStored(cmd.Context(), runID, force)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(map[string]any{"path": stored.Path, "decision": d}); err != nil {
						return err
					}
				} else {
					renderDecision(cmd.OutOrStdout(), d)
				}
				if !d.Admitted {
					return &exitCodeError{code: exitDenied, err: errors.New(d.Reason)}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "report run id (default latest)")
	cmd.Flags().BoolVar(&force, "force-quality", false, "admit the dataset even if checks fail (logged as an override)")
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "report",
		Short: "Inspect stored reports",
	}
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	return rep
}

func reportListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(nil, func(r *app.Runner) error {
				stored, err := r.Engine.Repo.List()
				if err != nil {
					return err
				}
				if limit > 0 && len(stored) > limit {
					stored = stored[:limit]
				}
				if viper.GetBool("json") {
					return printJSON(stored)
				}
				renderReportList(cmd.OutOrStdout(), stored)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of reports (0 for all)")
	return cmd
}

func reportShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [run-id|latest]",
		Short: "Show a stored report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(nil, func(r *app.Runner) error {
				store := r.Engine.Repo
				id := "latest"
				if len(args) == 1 {
					id = args[0]
				}
				var (
					stored repo.Stored
					err    error
				)
				if id == "latest" {
					stored, err = store.Latest()
				} else {
					stored, err = store.Get(id)
				}
				if err != nil {
					return fmt.Errorf("report %s: %w", id, err)
				}
				if viper.GetBool("json") {
					return printJSON(stored)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Report %s (%s)\n", stored.Report.RunID, stored.Path)
				renderReport(cmd.OutOrStdout(), stored.Report)
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Create or validate quality.yml",
		Long:  "quality.yml names the monitors to run, their thresholds and severities, where reports go, and optional webhooks and schedules.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Print a starter config (or write it with --write)",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputDir := viper.GetString("output-dir")
			if outputDir == "" {
				outputDir = "reports"
			}
			content := config.GenerateDefault(outputDir)
			if !write {
				fmt.Fprint(cmd.OutOrStdout(), content)
				return nil
			}
			path := viper.GetString("config")
			f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
			if err != nil {
				if errors.Is(err, os.ErrExist) {
					return fmt.Errorf("%s already exists", path)
				}
				return err
			}
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "write the config file instead of printing it")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and every monitor in it",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withRunner(nil, func(r *app.Runner) error { return nil })
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				var ve *config.ValidationError
				switch {
				case errors.As(err, &ve):
					out["problems"] = ve.Problems
				case err != nil:
					out["error"] = err.Error()
				}
				if perr := printJSON(out); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			return withRunner(metrics.New(reg), func(r *app.Runner) error {
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), Logger: r.Logger}
				if !authCfg.Enabled() {
					r.Logger.Warn("QG_JWT_SECRET not set; the API accepts unauthenticated requests")
				}
				handler, err := server.New(server.Config{
					Runner:   r,
					BasePath: basePath,
					Auth:     authCfg,
					Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
					Logger:   r.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-cmd.Context().Done()
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(ctx)
				}()
				fmt.Printf("Serving Qualitygate API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env QG_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		src         app.Source
		cronSpec    string
		onChange    bool
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run checks on a cron schedule and/or when the dataset file changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			return withRunner(metrics.New(reg), func(r *app.Runner) error {
				ctx := cmd.Context()
				if cronSpec == "" {
					cronSpec = r.Engine.Config.Schedule.Cron
				}
				if cronSpec == "" && !onChange {
					return errors.New("nothing to watch: set --cron, schedule.cron or --on-change")
				}
				if onChange && (src.Path == "" || src.Table != "" || src.Query != "") {
					return errors.New("--on-change needs a dataset file")
				}
				job := func(ctx context.Context) {
					ds, err := app.LoadDataset(ctx, src)
					if err != nil {
						r.Logger.Error("load dataset", "source", src.Describe(), "error", err)
						return
					}
					res, err := r.Check(ctx, ds, app.CheckOptions{Save: true})
					if err != nil && !app.IsPersistError(err) {
						r.Logger.Error("quality check", "source", src.Describe(), "error", err)
						return
					}
					r.Logger.Info("quality check finished",
						"source", src.Describe(),
						"run_id", res.Report.RunID,
						"admitted", res.Decision.Admitted,
						"report", res.ReportPath)
				}
				if metricsAddr != "" {
					go serveMetrics(ctx, r, metricsAddr, reg)
				}

				errCh := make(chan error, 1)
				if onChange {
					go func() {
						errCh <- schedule.WatchFile(ctx, src.Path, r.Engine.Config.Schedule.Debounce, job)
					}()
				}
				if cronSpec != "" {
					s := schedule.New()
					s.Logger = r.Logger
					if err := s.AddCron(ctx, cronSpec, job); err != nil {
						return err
					}
					go s.Run(ctx)
				}
				select {
				case <-ctx.Done():
					return nil
				case err := <-errCh:
					return err
				}
			})
		},
	}
	addSourceFlags(cmd, &src)
	cmd.Flags().StringVar(&cronSpec, "cron", "", "cron spec with seconds, e.g. \"0 */5 * * * *\" or @hourly (default schedule.cron)")
	cmd.Flags().BoolVar(&onChange, "on-change", false, "re-run when the dataset file changes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func serveMetrics(ctx context.Context, r *app.Runner, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		r.Logger.Error("metrics server", "addr", addr, "error", err)
	}
}

// --- helpers ---

// withRunner loads the config named by --config, applies --output-dir and builds the
// runner. m may be nil when no metrics are exported.
func withRunner(m *metrics.Metrics, fn func(*app.Runner) error) error {
	cfg, err := config.FromFile(viper.GetString("config"))
	if err != nil {
		return err
	}
	if dir := viper.GetString("output-dir"); dir != "" {
		cfg.OutputDir = dir
	}
	r, err := app.NewRunner(cfg, m, nil)
	if err != nil {
		return err
	}
	return fn(r)
}
