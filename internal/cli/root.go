// Package cli defines the inboxsync command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhle/inbox-sync/internal/app"
	"github.com/nhle/inbox-sync/internal/credential"
	"github.com/nhle/inbox-sync/internal/logging"
	"github.com/nhle/inbox-sync/internal/model"
)

type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
	pretty     bool
}

// env carries what every command needs after flags are parsed.
type env struct {
	flags   *rootFlags
	version string
	out     io.Writer

	cfg   *model.AppConfig
	log   zerolog.Logger
	vault *credential.Vault
}

// NewRootCommand builds the command tree. Secrets not set in the config
// are looked up in the platform keyring.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(version, credential.Open(""))
}

func newRootCommand(version string, vault *credential.Vault) *cobra.Command {
	e := &env{flags: &rootFlags{}, version: version, out: os.Stdout, vault: vault}

	root := &cobra.Command{
		Use:   "inboxsync",
		Short: "Sync a mailbox into a local store and classify new mail",
		Long: `inboxsync pulls recent messages from an IMAP mailbox, stores each
one exactly once, classifies its intent and importance, and serves the
results over HTTP.

Examples:
  inboxsync run --limit 50        # one sync pass
  inboxsync serve --interval 2m   # HTTP API plus a background loop
  inboxsync list                  # show stored messages
  inboxsync body mid:abc@host     # print a message body`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			e.out = cmd.OutOrStdout()
			return e.load()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&e.flags.configPath, "config", model.DefaultConfigPath(), "path to the YAML config file")
	pf.StringVar(&e.flags.envFile, "env-file", "", "dotenv file loaded before the config")
	pf.StringVar(&e.flags.logLevel, "log-level", "", "override log.level")
	pf.BoolVar(&e.flags.pretty, "pretty", false, "human-readable logs")

	root.AddCommand(
		newRunCmd(e),
		newServeCmd(e),
		newListCmd(e),
		newBodyCmd(e),
		newDraftCmd(e),
		newBackfillCmd(e),
		newConfigCmd(e),
		newCredentialCmd(e),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute(version string) {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (e *env) load() error {
	if e.flags.envFile != "" {
		if err := godotenv.Load(e.flags.envFile); err != nil {
			return fmt.Errorf("loading env file %s: %w", e.flags.envFile, err)
		}
	} else {
		// A .env in the working directory is optional.
		_ = godotenv.Load()
	}

	cfg, err := model.LoadConfig(e.flags.configPath)
	if err != nil {
		return err
	}
	if e.flags.logLevel != "" {
		cfg.Log.Level = e.flags.logLevel
	}
	if e.flags.pretty {
		cfg.Log.Pretty = true
	}
	e.cfg = cfg
	e.log = logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
	return nil
}

func (e *env) open(ctx context.Context, opts app.Options) (*app.App, error) {
	opts.Version = e.version
	opts.Vault = e.vault
	return app.New(ctx, e.cfg, e.log, opts)
}
