package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailtrack/internal/app"
	"github.com/foxzi/mailtrack/internal/config"
	"github.com/foxzi/mailtrack/internal/logstore"
	"github.com/foxzi/mailtrack/internal/mailer"
	"github.com/foxzi/mailtrack/internal/tracking"
)

var (
	sendTo       string
	sendSubject  string
	sendBody     string
	sendBodyFile string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one tracked email",
	Long: `Compose a tracked email from the given HTML body, dispatch it through
the configured driver and record the send in the sends log.

The body is read from --body, or from --body-file ("-" reads stdin).`,
	RunE: runSend,
}

var linkCmd = &cobra.Command{
	Use:   "link [tracking-id] [url]",
	Short: "Print a click-tracking URL for an existing tracking ID",
	Args:  cobra.ExactArgs(2),
	RunE:  runLink,
}

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "recipient address (required)")
	sendCmd.Flags().StringVar(&sendSubject, "subject", "", "subject line (required)")
	sendCmd.Flags().StringVar(&sendBody, "body", "", "HTML body")
	sendCmd.Flags().StringVar(&sendBodyFile, "body-file", "", "file holding the HTML body, - for stdin")
	sendCmd.MarkFlagRequired("to")
	sendCmd.MarkFlagRequired("subject")
	sendCmd.MarkFlagsMutuallyExclusive("body", "body-file")

	rootCmd.AddCommand(sendCmd, linkCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	body, err := readBody(sendBody, sendBodyFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	to := strings.TrimSpace(sendTo)
	subject := strings.TrimSpace(sendSubject)
	if to == "" || subject == "" || body == "" {
		return errors.New("recipient, subject and body are all required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := app.NewLogger(cfg.Logging)
	sender, err := mailer.New(cmd.Context(), cfg, logger.With("component", "mailer"))
	if err != nil {
		return fmt.Errorf("failed to create mail sender: %w", err)
	}

	id := tracking.UUIDIssuer{}.Issue()
	msg := &mailer.Message{
		To:      to,
		Subject: subject,
		HTML:    newComposer(cfg).Compose(body, id),
	}

	if err := sender.Send(cmd.Context(), msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Email sent to %s\n", to)
	fmt.Fprintf(out, "  Tracking ID: %s\n", id)

	store := logstore.NewStore(cfg.Storage.LogsDir)
	if err := store.Append(logstore.Sends, tracking.NewSent(id, to)); err != nil {
		return fmt.Errorf("email sent with tracking ID %s but the send was not recorded: %w", id, err)
	}
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), newComposer(cfg).WrapURL(tracking.ID(args[0]), args[1]))
	return nil
}

func newComposer(cfg *config.Config) *tracking.Composer {
	links := make([]tracking.Link, 0, len(cfg.Tracking.Links))
	for _, l := range cfg.Tracking.Links {
		links = append(links, tracking.Link{Label: l.Label, URL: l.URL})
	}
	return tracking.NewComposer(cfg.Tracking.BaseURL, links)
}

// readBody returns the inline body, or the contents of path ("-" reads stdin)
func readBody(inline, path string, stdin io.Reader) (string, error) {
	switch path {
	case "":
		return strings.TrimSpace(inline), nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read body from stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read body file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
}
