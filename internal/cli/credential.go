package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nhle/inbox-sync/internal/credential"
	"github.com/nhle/inbox-sync/internal/model"
)

func newCredentialCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Store, remove or check secrets in the system keyring",
	}

	set := &cobra.Command{
		Use:   "set <key>",
		Short: "Read a secret from the terminal and store it under key",
		Long: `Read a secret from the terminal and store it under key.

Keys referenced by the default config:
  imap-password        imap.password_key
  classifier-api-key   classifier.remote.api_key_ref
  draft-api-key        draft.model.api_key_ref`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd, "value for "+args[0]+": ")
			if err != nil {
				return err
			}
			if secret == "" {
				return fmt.Errorf("empty value")
			}
			if err := e.vault.Set(args[0], secret); err != nil {
				return err
			}
			_, err = fmt.Fprintln(e.out, "stored", args[0])
			return err
		},
	}

	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.vault.Delete(args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintln(e.out, "deleted", args[0])
			return err
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show where each configured secret comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, s := range configSecrets(e.cfg) {
				src, err := e.vault.Source(s)
				if err != nil {
					return err
				}
				ref := s.Ref
				if ref == "" {
					ref = "-"
				}
				if _, err := fmt.Fprintf(e.out, "%-18s %-20s %s\n", s.Name, ref, src); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(set, del, status)
	return cmd
}

// configSecrets lists the secrets cfg refers to. Bedrock models
// authenticate through the AWS chain and carry no key.
func configSecrets(cfg *model.AppConfig) []credential.Secret {
	secrets := []credential.Secret{
		{Name: "imap password", Value: cfg.IMAP.Password, Ref: cfg.IMAP.PasswordKey},
	}
	models := []struct {
		name string
		mc   model.ModelConfig
	}{
		{"classifier api key", cfg.Classifier.Remote},
		{"draft api key", cfg.Draft.Model},
	}
	for _, m := range models {
		if m.mc.Provider == "" || m.mc.Provider == "bedrock" {
			continue
		}
		secrets = append(secrets, credential.Secret{Name: m.name, Value: m.mc.APIKey, Ref: m.mc.APIKeyRef})
	}
	return secrets
}

// readSecret reads without echo from a terminal, or one line from a pipe.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
