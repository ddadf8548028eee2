package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/diillson/cloud-finops-engine/internal/application/usecase"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
	"github.com/diillson/cloud-finops-engine/pkg/console"
	"github.com/diillson/cloud-finops-engine/pkg/version"
)

// Runtime agrupa as dependências montadas a partir da configuração.
type Runtime struct {
	Config    *types.Config
	Dashboard *usecase.DashboardUseCase
	Cache     *usecase.CacheUseCase
	// Serve bloqueia servindo a API HTTP até ctx ser cancelado.
	Serve func(ctx context.Context, addr string) error
	Close func() error
}

// Bootstrap monta o Runtime para os argumentos informados.
type Bootstrap func(args *types.CLIArgs) (*Runtime, error)

// CLIApp represents the command-line interface application.
type CLIApp struct {
	rootCmd   *cobra.Command
	bootstrap Bootstrap
	out       io.Writer
}

// NewCLIApp cria uma nova aplicação CLI.
func NewCLIApp(bootstrap Bootstrap) *CLIApp {
	app := &CLIApp{bootstrap: bootstrap, out: os.Stdout}

	rootCmd := &cobra.Command{
		Use:           "finops-engine",
		Short:         "Multi-cloud cost aggregation, caching and forecasting engine",
		Version:       version.FormatVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate(`{{printf "Cloud FinOps Engine version: %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringP("config-file", "C", "", "Path to a TOML, YAML, or JSON configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides the configuration)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json (overrides the configuration)")

	rootCmd.AddCommand(app.reportCommand(), app.serveCommand(), app.cacheCommand(), app.versionCommand())
	app.rootCmd = rootCmd
	return app
}

// Execute runs the CLI application. ctx é cancelado nos sinais de término.
func (app *CLIApp) Execute(ctx context.Context) error {
	return app.rootCmd.ExecuteContext(ctx)
}

// SetArgs substitui os argumentos da linha de comando, usado nos testes.
func (app *CLIApp) SetArgs(args []string) {
	app.rootCmd.SetArgs(args)
}

// SetOutput redireciona a saída dos comandos.
func (app *CLIApp) SetOutput(out io.Writer) {
	app.out = out
	app.rootCmd.SetOut(out)
}

func (app *CLIApp) reportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build cost reports for one account, a group, or every configured account",
		RunE:  app.runReport,
	}
	cmd.Flags().StringP("account", "A", "", "Account or group id to report on")
	cmd.Flags().BoolP("all", "a", false, "Report on every configured account")
	cmd.Flags().StringP("report-type", "y", "dashboard", "Report type: dashboard or finops")
	cmd.Flags().StringP("group-by", "g", "service", "Breakdown dimension: service, region or tag")
	cmd.Flags().String("tag-key", "", "Tag key used when grouping by tag")
	cmd.Flags().IntP("days", "t", 0, "Days in the report window (default from configuration)")
	cmd.Flags().IntP("periods", "p", 0, "Days to forecast (default from configuration)")
	cmd.Flags().BoolP("force-refresh", "f", false, "Skip the cached report and fetch fresh data")
	cmd.Flags().StringP("report-name", "n", "", "Base name for exported report files (without extension)")
	cmd.Flags().StringSliceP("export", "e", nil, "Export formats: csv, json, pdf")
	cmd.Flags().StringP("dir", "d", "", "Directory to save the report files (default: current directory)")
	return cmd
}

func (app *CLIApp) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve reports over HTTP",
		RunE:  app.runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default from configuration)")
	return cmd
}

func (app *CLIApp) cacheCommand() *cobra.Command {
	evict := &cobra.Command{
		Use:   "evict",
		Short: "Invalidate cached reports",
		RunE:  app.runEvict,
	}
	evict.Flags().StringP("account", "A", "", "Evict reports of this account and of every group containing it")
	evict.Flags().BoolP("all", "a", false, "Evict every cached report")

	cmd := &cobra.Command{Use: "cache", Short: "Manage the report cache"}
	cmd.AddCommand(evict)
	return cmd
}

func (app *CLIApp) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and check for a newer release",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(app.out, "Cloud FinOps Engine version: %s\n", version.FormatVersion())
			checkLatestVersion(cmd.Context())
		},
	}
}

// parseArgs parses command-line arguments into a CLIArgs struct.
func (app *CLIApp) parseArgs(cmd *cobra.Command) (*types.CLIArgs, error) {
	flags := cmd.Flags()
	args := &types.CLIArgs{}
	args.ConfigFile, _ = flags.GetString("config-file")
	args.LogLevel, _ = flags.GetString("log-level")
	args.LogFormat, _ = flags.GetString("log-format")

	// Flags locais só existem em alguns subcomandos; Lookup evita erros nos demais.
	if flags.Lookup("account") != nil {
		args.Account, _ = flags.GetString("account")
		args.All, _ = flags.GetBool("all")
	}
	if flags.Lookup("report-type") != nil {
		args.ReportType, _ = flags.GetString("report-type")
		args.GroupBy, _ = flags.GetString("group-by")
		args.TagKey, _ = flags.GetString("tag-key")
		args.Days, _ = flags.GetInt("days")
		args.Periods, _ = flags.GetInt("periods")
		args.ForceRefresh, _ = flags.GetBool("force-refresh")
		args.ReportName, _ = flags.GetString("report-name")
		args.Export, _ = flags.GetStringSlice("export")
		args.Dir, _ = flags.GetString("dir")
	}
	if flags.Lookup("addr") != nil {
		args.Addr, _ = flags.GetString("addr")
	}

	if args.ReportName != "" {
		dir := args.Dir
		if dir == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			dir = cwd
		}
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		args.Dir = absDir
	}

	return args, nil
}

// withRuntime monta o Runtime, executa fn e libera os recursos.
func (app *CLIApp) withRuntime(cmd *cobra.Command, fn func(args *types.CLIArgs, rt *Runtime) error) error {
	args, err := app.parseArgs(cmd)
	if err != nil {
		return err
	}
	rt, err := app.bootstrap(args)
	if err != nil {
		return err
	}
	if rt.Close != nil {
		defer rt.Close()
	}
	return fn(args, rt)
}

// runReport é o ponto de entrada do comando report.
func (app *CLIApp) runReport(cmd *cobra.Command, _ []string) error {
	displayWelcomeBanner(app.out)
	go checkLatestVersion(cmd.Context())

	return app.withRuntime(cmd, func(args *types.CLIArgs, rt *Runtime) error {
		_, err := rt.Dashboard.RunReport(cmd.Context(), args)
		return err
	})
}

func (app *CLIApp) runServe(cmd *cobra.Command, _ []string) error {
	return app.withRuntime(cmd, func(args *types.CLIArgs, rt *Runtime) error {
		addr := args.Addr
		if addr == "" {
			addr = rt.Config.Server.Addr
		}
		return rt.Serve(cmd.Context(), addr)
	})
}

func (app *CLIApp) runEvict(cmd *cobra.Command, _ []string) error {
	return app.withRuntime(cmd, func(args *types.CLIArgs, rt *Runtime) error {
		switch {
		case args.All && args.Account != "":
			return types.InvalidRequestf("use either --account or --all")
		case args.All:
			if err := rt.Cache.EvictAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(app.out, console.BrightGreen("Evicted every cached report"))
		case args.Account != "":
			prefixes, err := rt.Cache.EvictAccount(cmd.Context(), args.Account)
			if err != nil {
				return err
			}
			for _, prefix := range prefixes {
				fmt.Fprintln(app.out, console.BrightGreen("Evicted "+prefix+"*"))
			}
		default:
			return types.InvalidRequestf("cache evict needs --account or --all")
		}
		return nil
	})
}

// checkLatestVersion avisa quando há uma release mais nova publicada.
func checkLatestVersion(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	latest, newer, err := version.LatestRelease(ctx, nil, version.Version)
	if err != nil || !newer {
		return
	}
	pterm.Warning.Println(fmt.Sprintf("A new version of Cloud FinOps Engine is available: %s", latest))
	pterm.Info.Println("Please update using: go install github.com/diillson/cloud-finops-engine/cmd/finops-engine@latest")
}
