// babelloopd is the local translation service. It is normally spawned and
// supervised by the babelloop client, but runs fine standalone, and its
// subcommands run one-shot operations against the same backend without a
// server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/babelloop/babelloop/internal/daemon"
	"github.com/babelloop/babelloop/internal/localservice"
	"github.com/babelloop/babelloop/internal/metrics"
	"github.com/babelloop/babelloop/internal/models"
)

func init() {
	logrus.SetOutput(os.Stdout)
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat:        time.RFC3339Nano,
		DisableColors:          true,
		DisableLevelTruncation: true,
		ForceQuote:             true,
		FullTimestamp:          true,
	})
}

type daemonFlags struct {
	ModelDir         string
	Fixture          bool
	InferenceCommand string
	LogLevel         string
}

func (f *daemonFlags) build() *daemon.Service {
	return daemon.Build(daemon.BuildOptions{
		ModelDir:         f.ModelDir,
		Fixture:          f.Fixture,
		InferenceCommand: f.InferenceCommand,
	})
}

func main() {
	flags := &daemonFlags{}

	rootCmd := &cobra.Command{
		Use:          "babelloopd",
		Short:        "Local translation service daemon",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if level, err := logrus.ParseLevel(flags.LogLevel); err == nil {
				logrus.SetLevel(level)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&flags.ModelDir, "model-dir", defaultModelDir(), "translation model directory")
	rootCmd.PersistentFlags().BoolVar(&flags.Fixture, "fixture", envBool("BABELLOOP_FIXTURE"), "serve deterministic fixture translations")
	rootCmd.PersistentFlags().StringVar(&flags.InferenceCommand, "inference-command", os.Getenv("BABELLOOP_INFERENCE_COMMAND"), "external inference command")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level")

	rootCmd.AddCommand(
		createServeCommand(flags),
		createHealthCommand(flags),
		createTranslateCommand(flags),
		createBacktranslateCommand(flags),
		createModelsCommand(flags),
	)

	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func createServeCommand(flags *daemonFlags) *cobra.Command {
	var (
		listen        string
		metricsListen string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local translation HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			metrics.InitMetricServer(metrics.MetricConfig{Listen: metricsListen})
			return daemon.NewServer(flags.build()).ListenAndServe(listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", defaultListen(), "listen address")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Prometheus listen address, empty disables metrics")
	return cmd
}

func createHealthCommand(flags *daemonFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report backend and model state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(flags.build().Health())
		},
	}
}

func createTranslateCommand(flags *daemonFlags) *cobra.Command {
	var source, target string
	cmd := &cobra.Command{
		Use:   "translate [text]",
		Short: "Translate text with the local backend",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args)
			if err != nil {
				return err
			}
			out, err := flags.build().Translate(cmd.Context(), daemon.TranslationRequest{
				Text:       text,
				SourceLang: source,
				TargetLang: target,
			})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&source, "from", "en", "source language code")
	cmd.Flags().StringVar(&target, "to", "ja", "target language code")
	return cmd
}

func createBacktranslateCommand(flags *daemonFlags) *cobra.Command {
	var source, via string
	cmd := &cobra.Command{
		Use:   "backtranslate [text]",
		Short: "Round-trip text through the local backend",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args)
			if err != nil {
				return err
			}
			out, err := flags.build().Backtranslate(cmd.Context(), text, source, via, source)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&source, "from", "en", "source language code")
	cmd.Flags().StringVar(&via, "via", "ja", "intermediate language code")
	return cmd
}

func createModelsCommand(flags *daemonFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage the daemon's model packages",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Report installed model packages",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printJSON(flags.build().ModelsStatus())
			},
		},
		&cobra.Command{
			Use:   "verify",
			Short: "Verify installed model packages are complete",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printJSON(flags.build().ModelsVerify())
			},
		},
		&cobra.Command{
			Use:   "remove",
			Short: "Remove installed model packages",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printJSON(flags.build().ModelsRemove())
			},
		},
	)

	var req models.InstallRequest
	install := &cobra.Command{
		Use:   "install",
		Short: "Install model packages from a preset or URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := flags.build().ModelsInstall(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	install.Flags().StringVar(&req.Preset, "preset", "", "bundled model preset name (default, elanmt-tiny-int8)")
	install.Flags().StringVar(&req.EnJaURL, "en-ja-url", "", "URL or path of the en-ja model archive")
	install.Flags().StringVar(&req.JaEnURL, "ja-en-url", "", "URL or path of the ja-en model archive")
	install.Flags().StringVar(&req.EnJaSHA256, "en-ja-sha256", "", "expected SHA-256 of the en-ja archive")
	install.Flags().StringVar(&req.JaEnSHA256, "ja-en-sha256", "", "expected SHA-256 of the ja-en archive")
	cmd.AddCommand(install)

	return cmd
}

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

func defaultListen() string {
	if u, err := url.Parse(localservice.DefaultBaseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return "127.0.0.1:5055"
}

func defaultModelDir() string {
	if dir := os.Getenv(localservice.EnvModelDir); dir != "" {
		return dir
	}
	return models.DefaultModelDir()
}

func envBool(name string) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
