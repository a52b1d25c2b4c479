package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/doppelcheck/internal/metrics"
	"github.com/ppiankov/doppelcheck/internal/model"
)

var (
	cfgFile     string
	verbose     bool
	serverAddr  string
	metricsAddr string

	// set by PersistentPreRunE for every subcommand
	cfg    *model.Config
	logger *slog.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "doppelcheck",
	Short: "Doppelcheck - fact-check a web page against retrieved sources",
	Long: `Doppelcheck sends a web page to a Doppelcheck server, which extracts its
keypoints, searches sources for each keypoint and rates how every source
aligns with it.

Ratings describe alignment between a keypoint and a source. They are not
a judgement of truth.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("doppelcheck v%s\n", model.Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.doppelcheck/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "Doppelcheck server host[:port]")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".doppelcheck"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// DOPPELCHECK_SERVER_ADDRESS overrides server.address
	viper.SetEnvPrefix("DOPPELCHECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if serverAddr != "" {
		cfg.Server.Address = serverAddr
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	logger = newLogger(cfg.Output.Verbose)
	slog.SetDefault(logger)

	if cfg.Metrics.Addr != "" {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}
	return nil
}

// loadConfig layers the config file and environment over the defaults.
// Environment variables are only seen for keys the defaults define.
func loadConfig(v *viper.Viper) (*model.Config, error) {
	c := model.DefaultConfig()
	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// configKeys are the scalar settings that can be set from the environment
var configKeys = []string{
	"server.address", "server.instance_id", "server.insecure_tls", "server.plain_text", "server.config_ttl",
	"http.timeout", "http.user_agent", "http.max_body_bytes", "http.insecure_tls", "http.respect_robots",
	"http.http_proxy", "http.https_proxy", "http.no_proxy",
	"cache.enabled", "cache.dir", "cache.memory_ttl", "cache.disk_ttl",
	"rate_limiting.requests_per_second", "rate_limiting.burst_size",
	"concurrency.workers",
	"workflow.auto_sources", "workflow.auto_crosscheck", "workflow.stage_timeout", "workflow.ngram", "workflow.reader_mode",
	"output.verbose", "output.include_footer", "output.color",
	"metrics.addr",
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
