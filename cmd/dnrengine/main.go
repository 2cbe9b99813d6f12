package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bnema/ublock-dnr-engine/internal/fetcher"
	"github.com/bnema/ublock-dnr-engine/internal/health"
	"github.com/bnema/ublock-dnr-engine/internal/metrics"
	"github.com/bnema/ublock-dnr-engine/internal/models"
	"github.com/bnema/ublock-dnr-engine/internal/refresh"
	"github.com/bnema/ublock-dnr-engine/internal/ruleset"
	"github.com/bnema/ublock-dnr-engine/internal/settings"
	"github.com/bnema/ublock-dnr-engine/internal/store"
)

var (
	cfgFile string
	cfg     models.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dnrengine",
	Short: "Compile uBlock filter lists into declarative blocking rules",
	Long: `Fetches community filter lists, compiles them into declarative
block/allow rules and per-domain cosmetic selector sets, and keeps both
fresh and bounded in size.`,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one compile cycle against the configured lists",
	RunE:  runRefresh,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-list health",
	RunE:  runStatus,
}

var cosmeticCmd = &cobra.Command{
	Use:   "cosmetic <domain>",
	Short: "Print the resolved cosmetic selectors for a domain",
	Args:  cobra.ExactArgs(1),
	RunE:  runCosmetic,
}

var levelCmd = &cobra.Command{
	Use:   "level <off|minimal|basic|optimal|complete>",
	Short: "Set the filtering level",
	Args:  cobra.ExactArgs(1),
	RunE:  runLevel,
}

var trustCmd = &cobra.Command{
	Use:   "trust [domain]",
	Short: "Exempt a site from filtering (no argument lists trusted sites)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTrust,
}

var untrustCmd = &cobra.Command{
	Use:   "untrust <domain>",
	Short: "Remove a site exception",
	Args:  cobra.ExactArgs(1),
	RunE:  runUntrust,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the periodic refresh loop (and metrics exporter)",
	RunE:  runServe,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE:  runInit,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./configs/filterlists.toml)")

	refreshCmd.Flags().Bool("force", false, "ignore TTL and refetch every list")
	refreshCmd.Flags().Bool("verbose", false, "verbose output")

	rootCmd.AddCommand(refreshCmd, statusCmd, cosmeticCmd, levelCmd, trustCmd, untrustCmd, serveCmd, initCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("filterlists")
		viper.SetConfigType("toml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	// Set defaults
	viper.SetDefault("http.timeout", "30s")
	viper.SetDefault("http.retries", 3)
	viper.SetDefault("storage.path", "./data/dnrengine.db")
	viper.SetDefault("storage.max_value_bytes", 2*1024*1024)
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "127.0.0.1:9321")
	viper.SetDefault("filtering.level", "optimal")
	viper.SetDefault("filtering.refresh_interval", "6h")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
	}
}

// components wires the pipeline for one command invocation.
type components struct {
	store       *store.SQLiteStore
	tracker     *health.Tracker
	manager     *fetcher.Manager
	engine      *ruleset.InMemoryEngine
	coordinator *ruleset.Coordinator
	refresher   *refresh.Refresher
}

func buildComponents() (*components, error) {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	st, err := store.OpenSQLite(cfg.Storage.Path, cfg.Storage.MaxValueBytes)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	tracker := health.New(st, log)
	manager := fetcher.NewManager(fetcher.New(cfg.HTTP), st, tracker, log)
	engine := ruleset.NewInMemoryEngine()
	coordinator := ruleset.NewCoordinator(engine, st, log)
	refresher := refresh.New(manager, coordinator, tracker, st, log, cfg.Filtering.RefreshInterval)

	return &components{
		store:       st,
		tracker:     tracker,
		manager:     manager,
		engine:      engine,
		coordinator: coordinator,
		refresher:   refresher,
	}, nil
}

func (c *components) close() {
	if err := c.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing store: %v\n", err)
	}
}

func runRefresh(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	verbose, _ := cmd.Flags().GetBool("verbose")

	enabledLists := cfg.EnabledLists()
	if len(enabledLists) == 0 {
		return fmt.Errorf("no enabled filter lists found in config")
	}

	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	fmt.Printf("Compiling %d filter lists...\n", len(enabledLists))

	summary, err := comps.refresher.Refresh(context.Background(), enabledLists, force)
	if err != nil {
		return err
	}

	for _, ls := range summary.Lists {
		fmt.Printf("\n  %s\n", ls.Name)
		fmt.Printf("    network: %d, cosmetic: %d\n", ls.Network, ls.Cosmetic)
		if verbose && (ls.ParseErrors > 0 || ls.Unsupported > 0) {
			fmt.Printf("    parse errors: %d, unsupported: %d\n", ls.ParseErrors, ls.Unsupported)
		}
	}

	fmt.Printf("\nCompiled %d rules, %d generic selectors, %d tracked domains (%s)\n",
		summary.CompiledRules, summary.GenericSelectors, summary.TrackedDomains,
		summary.Duration.Round(time.Millisecond))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	healthMap, err := comps.tracker.All(context.Background())
	if err != nil {
		return err
	}
	if len(healthMap) == 0 {
		fmt.Println("No fetch history yet. Run `dnrengine refresh` first.")
		return nil
	}

	for _, list := range cfg.Lists {
		h, ok := healthMap[list.URL]
		if !ok {
			continue
		}
		state := string(h.LastFetchStatus)
		switch {
		case health.Broken(&h):
			state = "broken"
		case health.Degraded(&h):
			state = "degraded (last-known-good available)"
		}
		fmt.Printf("  [%s] %s\n", state, list.Name)
		fmt.Printf("         rules: %d, parse errors: %d\n", h.RuleCount, h.ParseErrors)
		if h.LastError != "" {
			fmt.Printf("         last error: %s\n", h.LastError)
		}
		if h.LastSuccessAt != nil {
			fmt.Printf("         last success: %s\n", h.LastSuccessAt.Format(time.RFC3339))
		}
		fmt.Println()
	}
	return nil
}

func runCosmetic(cmd *cobra.Command, args []string) error {
	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	selectors, err := comps.refresher.CosmeticRulesForDomain(context.Background(), args[0])
	if err != nil {
		return err
	}
	if len(selectors) == 0 {
		fmt.Printf("No cosmetic rules for %s\n", args[0])
		return nil
	}
	for _, sel := range selectors {
		fmt.Println(sel)
	}
	return nil
}

func runLevel(cmd *cobra.Command, args []string) error {
	level := models.FilteringLevel(args[0])
	if _, ok := ruleset.BundlesForLevel(level); !ok {
		return fmt.Errorf("unknown filtering level %q", args[0])
	}

	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	if err := comps.coordinator.SetFilteringLevel(context.Background(), level); err != nil {
		return err
	}
	bundles, _ := ruleset.BundlesForLevel(level)
	fmt.Printf("Filtering level set to %s (%d bundles)\n", level, len(bundles))
	return nil
}

func runTrust(cmd *cobra.Command, args []string) error {
	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	ctx := context.Background()
	if err := comps.coordinator.RestoreSiteExceptions(ctx); err != nil {
		return err
	}

	if len(args) == 0 {
		trusted := comps.coordinator.SiteExceptions()
		if len(trusted) == 0 {
			fmt.Println("No trusted sites.")
			return nil
		}
		for _, d := range trusted {
			fmt.Println(d)
		}
		return nil
	}

	if _, err := comps.coordinator.AddSiteException(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Filtering disabled on %s\n", args[0])
	return nil
}

func runUntrust(cmd *cobra.Command, args []string) error {
	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	ctx := context.Background()
	if err := comps.coordinator.RestoreSiteExceptions(ctx); err != nil {
		return err
	}
	if err := comps.coordinator.RemoveSiteException(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Filtering re-enabled on %s\n", args[0])
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	ctx := cmd.Context()

	if err := comps.coordinator.SetFilteringLevel(ctx, cfg.Filtering.Level); err != nil {
		return err
	}
	if err := comps.coordinator.RestoreSiteExceptions(ctx); err != nil {
		return err
	}

	// React to config edits: level changes apply immediately, list
	// changes take effect on the next cycle via the lists callback.
	settingsStore := settings.New(viper.GetViper(), slog.Default())
	settingsStore.Subscribe(func(s settings.Settings) {
		if err := viper.Unmarshal(&cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error reloading config: %v\n", err)
			return
		}
		if err := comps.coordinator.SetFilteringLevel(context.Background(), s.Level); err != nil {
			fmt.Fprintf(os.Stderr, "Error applying filtering level: %v\n", err)
		}
	})
	settingsStore.Watch()

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			fmt.Printf("Metrics on http://%s/metrics\n", cfg.Metrics.Listen)
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				fmt.Fprintf(os.Stderr, "Metrics server error: %v\n", err)
			}
		}()
	}

	fmt.Printf("Refreshing every %s\n", cfg.Filtering.RefreshInterval)
	return comps.refresher.Run(ctx, func() []models.FilterList {
		return cfg.EnabledLists()
	})
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := "./configs/filterlists.toml"
	if cfgFile != "" {
		configPath = cfgFile
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	defaultConfig := `# dnrengine configuration

# HTTP client settings
[http]
timeout = "30s"
retries = 3

# Persistent store
[storage]
path = "./data/dnrengine.db"
max_value_bytes = 2097152

# Prometheus exporter (serve command)
[metrics]
enabled = false
listen = "127.0.0.1:9321"

# Filtering behavior
[filtering]
level = "optimal"
refresh_interval = "6h"

# Filter lists, in priority order. Under rule-ceiling pressure earlier
# lists win; later lists are skipped whole. URLs must be https.
# Set enabled = false to skip a list.

[[lists]]
name = "easylist"
url = "https://easylist.to/easylist/easylist.txt"
enabled = true

[[lists]]
name = "easyprivacy"
url = "https://easylist.to/easylist/easyprivacy.txt"
enabled = true

[[lists]]
name = "ublock-filters"
url = "https://ublockorigin.github.io/uAssets/filters/filters.txt"
enabled = true

[[lists]]
name = "ublock-privacy"
url = "https://ublockorigin.github.io/uAssets/filters/privacy.txt"
enabled = true

[[lists]]
name = "ublock-badware"
url = "https://ublockorigin.github.io/uAssets/filters/badware.txt"
enabled = true

[[lists]]
name = "ublock-unbreak"
url = "https://ublockorigin.github.io/uAssets/filters/unbreak.txt"
enabled = true
`

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
		return err
	}

	fmt.Printf("Created config file: %s\n", configPath)
	return nil
}
