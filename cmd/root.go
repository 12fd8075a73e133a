package cmd

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/s0up4200/wxapi/config"
	"github.com/s0up4200/wxapi/filter"
	"github.com/s0up4200/wxapi/wechat"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
	client  *wechat.Client
	filters *filter.Manager

	// Command flags
	filterExpr string
	preset     string
	selectExpr string
	params     []string
	timeout    time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "wxapi",
	Short: "A command line client for the WeChat official account API",
	Long: `wxapi calls the WeChat official account API with an access token that is
fetched on first use and shared by every request of the invocation.

Responses are printed as JSON. Expressions can select values from a response
and presets from the config file can filter batch results.`,
	PersistentPreRunE: initializeApp,
	SilenceUsage:      true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "override the HTTP timeout")
}

// initializeApp initializes the configuration and clients
func initializeApp(cmd *cobra.Command, args []string) error {
	// Load configuration
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger = setupLogger(cfg.Logging)

	// Override timeout from command line if specified
	if cmd.Flags().Changed("timeout") {
		cfg.WeChat.Timeout = timeout
	}

	client, err = wechat.NewClient(cfg.WeChat.AppID, cfg.WeChat.AppSecret, logger, clientOptions(cfg.WeChat, cfg.OAuth)...)
	if err != nil {
		return fmt.Errorf("failed to create WeChat client: %w", err)
	}

	filters = filter.NewManager(
		filter.WithCompiler(filter.NewExprCompiler(filter.WithCache(cfg.Filter.CacheSize))),
	)
	presets := make(map[string]string, len(cfg.Filter.Presets))
	for name, p := range cfg.Filter.Presets {
		presets[name] = p.Expression
	}
	if err := filters.RegisterFilters(presets); err != nil {
		return fmt.Errorf("invalid filter preset: %w", err)
	}

	logger.Debug().
		Str("api_entry", client.Credentials().APIEntry).
		Strs("presets", filters.ListFilters()).
		Msg("Initialized WeChat client")

	return nil
}

// clientOptions maps the config onto client options
func clientOptions(c config.WeChatConfig, o config.OAuthConfig) []wechat.Option {
	opts := []wechat.Option{
		wechat.WithAPIEntry(c.APIEntry),
		wechat.WithUserAgent(c.UserAgent),
		wechat.WithOAuthEndpoint(oauth2.Endpoint{
			AuthURL:  o.AuthorizeURL,
			TokenURL: o.TokenURL,
		}),
		wechat.WithUserInfoURL(o.UserInfoURL),
		wechat.WithErrorHook(func(_ context.Context, op string, err *wechat.APIError) {
			if err.IsInvalidCredential() {
				logger.Warn().Str("op", op).Msg("Credentials were rejected, check wechat.app_id and wechat.app_secret")
			}
		}),
	}
	if c.Timeout > 0 {
		opts = append(opts, wechat.WithTimeout(c.Timeout))
	}
	if c.TokenURL != "" {
		opts = append(opts, wechat.WithTokenURL(c.TokenURL))
	}
	if len(c.TokenParams) > 0 {
		extra := url.Values{}
		for _, k := range slices.Sorted(maps.Keys(c.TokenParams)) {
			extra.Set(k, c.TokenParams[k])
		}
		opts = append(opts, wechat.WithTokenParams(extra))
	}
	if c.FailFastToken {
		opts = append(opts, wechat.WithFailFastToken())
	}
	return opts
}

// setupLogger configures the zerolog logger
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Console format. Color only makes sense on a terminal.
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !cfg.Color || !isatty.IsTerminal(os.Stderr.Fd()),
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

// resolveFilter determines the filter to apply to results
func resolveFilter() (filter.CompiledFilter, error) {
	// Priority: command line filter > preset > default
	if filterExpr != "" {
		f, err := filters.Compiler().Compile(filterExpr)
		if err != nil {
			return nil, fmt.Errorf("invalid filter expression: %w", err)
		}
		return f, nil
	}

	if preset != "" {
		if f, ok := filters.GetFilter(preset); ok {
			return f, nil
		}
		return nil, fmt.Errorf("preset '%s' not found in config", preset)
	}

	f, err := filter.ParseFilter(cfg.Filter.DefaultExpression)
	if err != nil {
		return nil, fmt.Errorf("invalid filter.default_expression: %w", err)
	}
	return f, nil
}

// parseParams turns repeated key=value flags into query parameters
func parseParams(pairs []string) (url.Values, error) {
	values := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q (expected key=value)", pair)
		}
		values.Add(key, value)
	}
	return values, nil
}
