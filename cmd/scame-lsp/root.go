package main

import (
	"context"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dshills/scame/internal/config"
	"github.com/dshills/scame/internal/logging"
	"github.com/dshills/scame/internal/lsp"
)

// cli is the state shared by every subcommand of one invocation.
type cli struct {
	v *viper.Viper

	// launch overrides how servers are started. Nil uses child processes.
	launch lsp.Launcher

	cfg      *config.Config
	log      *logrus.Entry
	registry *prometheus.Registry
	metrics  *lsp.Metrics
	server   *http.Server
}

func newRootCmd(launch lsp.Launcher) *cobra.Command {
	c := &cli{v: viper.New(), launch: launch}

	root := &cobra.Command{
		Use:               "scame-lsp",
		Short:             "Talk to language servers the way the scame editor does",
		Version:           version + " (" + commit + ", " + date + ")",
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: c.teardown,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (.toml, .yaml or .yml)")
	pf.String("log-level", "", "log level: trace, debug, info, warn or error")
	pf.String("log-format", "", "log format: text or json")
	pf.String("workdir", "", "workspace root (default: lsp.workdir, then the current directory)")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	bindFlags(c.v, pf)

	c.v.SetEnvPrefix("SCAME")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(
		newLanguagesCmd(c),
		newCheckCmd(c),
		newCompleteCmd(c),
		newDefinitionCmd(c),
		newWatchCmd(c),
	)
	return root
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})
}

// setup loads .env and the config, then builds the logger and metrics.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "loading .env")
	}

	cfg, err := config.Load(c.v.GetString("config"))
	if err != nil {
		return errors.Wrap(err, "loading config")
	}
	c.cfg = cfg

	lc, err := cfg.Logging()
	if err != nil {
		return err
	}
	if level := c.v.GetString("log-level"); level != "" {
		lc.Level = logging.ParseLevel(level)
	}
	if format := c.v.GetString("log-format"); format != "" {
		lc.Format = logging.Format(strings.ToLower(format))
	}
	lc.Output = cmd.ErrOrStderr()
	c.log = logrus.NewEntry(logging.New(lc)).WithField("app", "scame-lsp")
	c.log.WithFields(cfg.Fields()).Debug("configuration loaded")

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(collectors.NewGoCollector())
	c.metrics = lsp.NewMetrics(c.registry)

	if addr := c.v.GetString("metrics-addr"); addr != "" {
		if err := c.serveMetrics(addr); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	c.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.WithError(err).Warn("metrics server stopped")
		}
	}()
	c.log.WithField("addr", ln.Addr().String()).Info("serving metrics")
	return nil
}

func (c *cli) teardown(*cobra.Command, []string) {
	if c.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = c.server.Shutdown(ctx)
}

// workDir returns the --workdir flag, falling back to the config.
func (c *cli) workDir() string {
	if dir := c.v.GetString("workdir"); dir != "" {
		return dir
	}
	return c.cfg.WorkDir()
}

// newManager starts a manager configured from the loaded config.
func (c *cli) newManager(table *lsp.LanguageTable) *lsp.Manager {
	opts := []lsp.ManagerOption{
		lsp.WithLanguageTable(table),
		lsp.WithWorkDir(c.workDir()),
		lsp.WithLogger(c.log),
		lsp.WithMetrics(c.metrics),
	}
	if c.launch != nil {
		opts = append(opts, lsp.WithLauncher(c.launch))
	}
	return lsp.NewManager(opts...)
}
