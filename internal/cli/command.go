// Package cli wires the command tree for the babelloop binary.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/babelloop/babelloop/internal/config"
	"github.com/babelloop/babelloop/internal/errs"
	"github.com/babelloop/babelloop/internal/localservice"
	"github.com/babelloop/babelloop/internal/metrics"
	"github.com/babelloop/babelloop/internal/models"
	"github.com/babelloop/babelloop/internal/provider"
	"github.com/babelloop/babelloop/internal/translate"
)

const defaultConfigFile = "babelloop.yml"

// CreateRootCommand creates and configures the root cobra command
func CreateRootCommand(flags *Flags) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "babelloop",
		Short: "Back-translation quality checker",
		Long: `babelloop translates text to an intermediate language and back,
so you can judge how much meaning survives the round trip.

Examples:
  babelloop translate "hello world" --from en --to ja
  babelloop backtranslate "hello world" --via ja
  babelloop --provider local translate "hello" --to ja
  babelloop models install --preset default`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initConfig(flags)
			if level, err := logrus.ParseLevel(flags.LogLevel); err == nil {
				logrus.SetLevel(level)
			}
		},
	}

	setupFlags(rootCmd, flags)

	rootCmd.AddCommand(
		createTranslateCommand(flags),
		createBacktranslateCommand(flags),
		createDetectCommand(flags),
		createStatsCommand(flags),
		createModelsCommand(flags),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command, flags *Flags) {
	cmd.PersistentFlags().StringVar(&flags.CfgFile, "config", defaultConfigFile, "path to config file")
	cmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.MetricsListen, "metrics-listen", "", "Prometheus listen address, empty disables metrics")
	cmd.PersistentFlags().StringVar(&flags.Provider, "provider", "", "translation provider: remote, openai or local")

	viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("metric.listen", cmd.PersistentFlags().Lookup("metrics-listen"))
	viper.BindPFlag("translate.provider.kind", cmd.PersistentFlags().Lookup("provider"))
}

func initConfig(flags *Flags) {
	viper.SetEnvPrefix("BABELLOOP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if flags.LogLevel == "" {
		flags.LogLevel = viper.GetString("log_level")
	}
}

// loadApp builds the translation service from the config file plus flag
// overrides. The local service client is only constructed for the local
// provider.
func loadApp(flags *Flags) (*translate.Service, *localservice.Client, error) {
	cfg, err := config.Load(flags.CfgFile, true)
	if err != nil {
		return nil, nil, err
	}

	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}
	if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("error parsing log level '%s': %v", cfg.LogLevel, err)
		}
		logrus.SetLevel(level)
	}
	if flags.MetricsListen != "" {
		cfg.Metric.Listen = flags.MetricsListen
	}
	metrics.InitMetricServer(cfg.Metric)

	if flags.Provider != "" {
		cfg.Translate.Provider.Kind = provider.Kind(flags.Provider)
	}

	var local *localservice.Client
	if cfg.Translate.Provider.Kind == provider.KindLocal {
		local = localservice.NewClient(cfg.LocalService)
	}

	svc, err := translate.NewService(cfg.Translate, local)
	if err != nil {
		if local != nil {
			local.Close()
		}
		return nil, nil, err
	}
	return svc, local, nil
}

// readText takes the text from args or, when absent, from stdin.
func readText(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// friendlyError keeps the exit path uniform: a short human message on
// stderr, details at debug level only.
func friendlyError(err error) error {
	logrus.WithError(err).Debug("command failed")
	return fmt.Errorf("%s", errs.UserMessage(err))
}

func createTranslateCommand(flags *Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "translate [text]",
		Short: "Translate text between English and Japanese",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args)
			if err != nil {
				return err
			}

			svc, local, err := loadApp(flags)
			if err != nil {
				return err
			}
			if local != nil {
				defer local.Close()
			}

			out, err := svc.Translate(cmd.Context(), text, flags.SourceLang, flags.TargetLang)
			if err != nil {
				return friendlyError(err)
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&flags.SourceLang, "from", flags.SourceLang, "source language code")
	cmd.Flags().StringVar(&flags.TargetLang, "to", flags.TargetLang, "target language code")
	return cmd
}

func createBacktranslateCommand(flags *Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtranslate [text]",
		Short: "Round-trip text through an intermediate language",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args)
			if err != nil {
				return err
			}

			svc, local, err := loadApp(flags)
			if err != nil {
				return err
			}
			if local != nil {
				defer local.Close()
			}

			out, err := svc.Backtranslate(cmd.Context(), text, flags.SourceLang, flags.Via)
			if err != nil {
				return friendlyError(err)
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&flags.SourceLang, "from", flags.SourceLang, "source language code")
	cmd.Flags().StringVar(&flags.Via, "via", flags.Via, "intermediate language code")
	return cmd
}

func createDetectCommand(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "detect [text]",
		Short: "Detect the language of text",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args)
			if err != nil {
				return err
			}

			svc, local, err := loadApp(flags)
			if err != nil {
				return err
			}
			if local != nil {
				defer local.Close()
			}

			lang, confidence, err := svc.DetectLang(text)
			if err != nil {
				return friendlyError(err)
			}
			return printJSON(map[string]any{
				"lang":       strings.ToLower(lang),
				"confidence": confidence,
			})
		},
	}
}

func createStatsCommand(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show translation memory statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, local, err := loadApp(flags)
			if err != nil {
				return err
			}
			if local != nil {
				defer local.Close()
			}
			return printJSON(svc.Stats())
		},
	}
}

func createModelsCommand(flags *Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage local translation model packages",
	}
	cmd.PersistentFlags().StringVar(&flags.ModelDir, "model-dir", "", "model directory (default: user cache dir)")

	manager := func() *models.Manager {
		dir := flags.ModelDir
		if dir == "" {
			dir = os.Getenv(localservice.EnvModelDir)
		}
		if dir == "" {
			dir = models.DefaultModelDir()
		}
		return models.NewManager(dir)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Report installed model packages",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printJSON(manager().Status())
			},
		},
		&cobra.Command{
			Use:   "verify",
			Short: "Verify installed model packages are complete",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printJSON(manager().Verify())
			},
		},
		&cobra.Command{
			Use:   "remove",
			Short: "Remove installed model packages",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printJSON(manager().Remove())
			},
		},
	)

	install := &cobra.Command{
		Use:   "install",
		Short: "Install model packages from a preset or URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := manager().Install(cmd.Context(), models.InstallRequest{
				Preset:     flags.Preset,
				EnJaURL:    flags.EnJaURL,
				JaEnURL:    flags.JaEnURL,
				EnJaSHA256: flags.EnJaSHA,
				JaEnSHA256: flags.JaEnSHA,
			})
			if err != nil {
				return friendlyError(err)
			}
			return printJSON(res)
		},
	}
	install.Flags().StringVar(&flags.Preset, "preset", "", "bundled model preset name (default, elanmt-tiny-int8)")
	install.Flags().StringVar(&flags.EnJaURL, "en-ja-url", "", "URL or path of the en-ja model archive")
	install.Flags().StringVar(&flags.JaEnURL, "ja-en-url", "", "URL or path of the ja-en model archive")
	install.Flags().StringVar(&flags.EnJaSHA, "en-ja-sha256", "", "expected SHA-256 of the en-ja archive")
	install.Flags().StringVar(&flags.JaEnSHA, "ja-en-sha256", "", "expected SHA-256 of the ja-en archive")
	cmd.AddCommand(install)

	return cmd
}
