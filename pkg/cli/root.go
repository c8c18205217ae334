// package cli wires configuration, logging and the crawler packages into the
// crawler command line
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/open-sauced/pizza/crawler/pkg/config"
)

// app is the state shared by every subcommand once the persistent flags are
// parsed.
type app struct {
	configPath string
	envFile    string
	debug      bool

	env    config.Env
	logger *zap.SugaredLogger
}

// NewRootCmd returns the crawler command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "crawler",
		Short: "Crawl commit activity across code hosts",
		Long: `crawler reconstructs the commits an author made across GitHub, sourcehut
and plain git repositories and emits them as one chronological JSON feed.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (--env-file, or .env in the current directory if present)
  3. CRAWLER_ prefixed environment variables
  4. yaml crawl file (--config)
  5. Command line flags`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.logger != nil {
				//nolint:errcheck
				a.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to .yaml crawl file")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "path to .env file (default: .env in current directory)")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "run in debug mode")

	cmd.AddCommand(activityCmd(a))
	cmd.AddCommand(projectsCmd(a))
	cmd.AddCommand(serveCmd(a))

	return cmd
}

func (a *app) setup(stderr io.Writer) error {
	// Load the environment variables from the .env file
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}

	env, err := config.LoadEnv()
	if err != nil {
		return fmt.Errorf("could not load environment: %w", err)
	}
	a.env = env

	logger, err := newLogger(a.debug, env.LogLevel, stderr)
	if err != nil {
		return err
	}
	a.logger = logger
	a.logger.Debugf("initiated zap logger with level: %s", a.logger.Level())

	return nil
}

// crawl returns the crawl file's content, or the defaults when no file is
// configured.
func (a *app) crawl() (config.Crawl, error) {
	if a.configPath == "" {
		return config.NewCrawl(), nil
	}

	c, err := config.LoadCrawlFile(a.configPath)
	if err != nil {
		return config.Crawl{}, err
	}
	a.logger.Infof("Configuration for crawl was set using yaml file")
	return c, nil
}

// newLogger builds a development logger in debug mode and a production
// logger at level otherwise. Both write to stderr so stdout stays free for
// the JSON artifact.
func newLogger(debug bool, level string, stderr io.Writer) (*zap.SugaredLogger, error) {
	out := zapcore.Lock(zapcore.AddSync(stderr))

	if debug {
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), out, zap.DebugLevel)
		return zap.New(core, zap.Development(), zap.AddCaller(), zap.AddStacktrace(zap.WarnLevel), zap.ErrorOutput(out)).Sugar(), nil
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), out, lvl)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel), zap.ErrorOutput(out)).Sugar(), nil
}
