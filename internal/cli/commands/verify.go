package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/relay/internal/cli/ui"
	"github.com/conduit-lang/relay/internal/web/auth"
)

// ErrInvalidSignature is returned by relay verify for a rejected request.
var ErrInvalidSignature = errors.New("signature is invalid")

// NewVerifyCommand creates the verify command
func NewVerifyCommand(app *App) *cobra.Command {
	var (
		publicKey string
		signature string
		timestamp string
		bodyPath  string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a request signature offline",
		Long: `Check that a signature was produced over timestamp followed by body with
the application's key. The key defaults to app.public_key from relay.yml.`,
		Example: `  relay verify --signature $SIG --timestamp 1700000000 --body payload.json
  cat payload.json | relay verify --signature $SIG --timestamp 1700000000 --body -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if publicKey == "" {
				p, err := app.loadProject()
				if err != nil {
					return err
				}
				publicKey = p.config.App.PublicKey
			}
			if publicKey == "" {
				return errors.New("no public key: pass --public-key or set app.public_key")
			}
			if _, err := auth.ParsePublicKey(publicKey); err != nil {
				return err
			}

			body, err := readBody(cmd.InOrStdin(), bodyPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !auth.Verify(body, signature, timestamp, publicKey) {
				fmt.Fprint(cmd.ErrOrStderr(), ui.FormatError(ui.ErrorOptions{
					Context:      "INVALID SIGNATURE",
					Problem:      fmt.Sprintf("The %d byte body with timestamp %q was not signed by this key.", len(body), timestamp),
					HelpCommands: []string{"Signed bytes: timestamp followed by the raw body"},
					NoColor:      app.NoColor,
				}))
				return reported(ErrInvalidSignature)
			}
			ui.WriteSuccess(out, "Signature is valid", app.NoColor)
			return nil
		},
	}

	cmd.Flags().StringVar(&publicKey, "public-key", "", "Hex encoded Ed25519 public key (default: app.public_key)")
	cmd.Flags().StringVar(&signature, "signature", "", "Hex encoded signature header value")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "Timestamp header value")
	cmd.Flags().StringVar(&bodyPath, "body", "-", "File holding the raw body, or - for stdin")
	_ = cmd.MarkFlagRequired("signature")
	_ = cmd.MarkFlagRequired("timestamp")

	return cmd
}

func readBody(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}
