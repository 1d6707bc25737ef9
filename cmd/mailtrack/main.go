package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailtrack/internal/app"
	"github.com/foxzi/mailtrack/internal/config"
	mtTLS "github.com/foxzi/mailtrack/internal/tls"
)

var (
	cfgFile   string
	envFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mailtrack",
	Short: "mailtrack - tracked email sender",
	Long: `mailtrack sends HTML emails with an open-tracking pixel and
click-tracking links, and records opens, clicks and sends to log files.

Settings come from an optional YAML file (-c), an optional .env file
(--env-file) and the environment.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "mailtrack version %s\n", version)
		if commit != "unknown" {
			fmt.Fprintf(out, "  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Fprintf(out, "  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	printConfigSummary(cmd.OutOrStdout(), cfg)
	return nil
}

func printConfigSummary(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "Configuration is valid\n")
	fmt.Fprintf(out, "  Listen: %s\n", cfg.Server.ListenAddr)
	fmt.Fprintf(out, "  Tracking base URL: %s\n", cfg.Tracking.BaseURL)
	fmt.Fprintf(out, "  Mail driver: %s\n", cfg.Mail.Driver)
	switch cfg.Mail.Driver {
	case config.DriverSES:
		fmt.Fprintf(out, "  SES region: %s\n", cfg.SES.Region)
	default:
		fmt.Fprintf(out, "  SMTP: %s:%d (tls=%v, ssl=%v)\n", cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.UseTLS, cfg.SMTP.UseSSL)
	}
	fmt.Fprintf(out, "  From: %s\n", cfg.SenderAddress())
	fmt.Fprintf(out, "  Logs: %s\n", cfg.Storage.LogsDir)
	fmt.Fprintf(out, "  Logs protected: %v\n", cfg.Admin.ProtectLogs)
	if cfg.DKIM.Enabled {
		fmt.Fprintf(out, "  DKIM: %s (selector %s)\n", cfg.DKIM.Domain, cfg.DKIM.Selector)
	}
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}

	switch {
	case cfg.Server.TLS.ACME.Enabled:
		fmt.Fprintf(out, "  TLS: ACME for %v\n", cfg.Server.TLS.ACME.Domains)
	case cfg.HasTLS():
		tlsConfig, err := mtTLS.LoadCertificate(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		if err != nil {
			fmt.Fprintf(out, "  TLS: certificate error: %v\n", err)
			return
		}
		info, err := mtTLS.Inspect(tlsConfig)
		if err != nil {
			fmt.Fprintf(out, "  TLS: certificate error: %v\n", err)
			return
		}
		fmt.Fprintf(out, "  TLS: %s, expires %s (%d days left)\n",
			info.Subject, info.NotAfter.Format("2006-01-02"), info.DaysLeft)
	}
}
