package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailtrack/internal/dkim"
)

var (
	dkimDomain   string
	dkimSelector string
	dkimKeyFile  string
	dkimOutDir   string
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management commands",
}

var dkimKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new DKIM key pair",
	Long:  `Generate a new RSA 2048-bit DKIM key pair and print its DNS record.`,
	RunE:  runDKIMKeygen,
}

var dkimShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show DKIM DNS record from existing key",
	RunE:  runDKIMShow,
}

func init() {
	dkimKeygenCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimKeygenCmd.Flags().StringVar(&dkimSelector, "selector", "mailtrack", "DKIM selector")
	dkimKeygenCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for key file")
	dkimKeygenCmd.MarkFlagRequired("domain")

	dkimShowCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Path to private key file (required)")
	dkimShowCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimShowCmd.Flags().StringVar(&dkimSelector, "selector", "mailtrack", "DKIM selector")
	dkimShowCmd.MarkFlagRequired("key")
	dkimShowCmd.MarkFlagRequired("domain")

	dkimCmd.AddCommand(dkimKeygenCmd, dkimShowCmd)
	rootCmd.AddCommand(dkimCmd)
}

func runDKIMKeygen(cmd *cobra.Command, args []string) error {
	kp, err := dkim.GenerateKey(dkimDomain, dkimSelector)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	keyPath := filepath.Join(dkimOutDir, fmt.Sprintf("%s.key", dkimDomain))
	if err := kp.SavePrivateKey(keyPath); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "DKIM key generated successfully\n\n")
	fmt.Fprintf(out, "Private key saved to: %s\n\n", keyPath)
	printDNSRecord(cmd, kp)
	return nil
}

func runDKIMShow(cmd *cobra.Command, args []string) error {
	privateKey, err := dkim.LoadPrivateKey(dkimKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load private key: %w", err)
	}

	printDNSRecord(cmd, &dkim.KeyPair{
		PrivateKey: privateKey,
		Domain:     dkimDomain,
		Selector:   dkimSelector,
	})
	return nil
}

func printDNSRecord(cmd *cobra.Command, kp *dkim.KeyPair) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "DNS Record:\n")
	fmt.Fprintf(out, "  Name: %s\n", kp.DNSName())
	fmt.Fprintf(out, "  Type: TXT\n")
	fmt.Fprintf(out, "  Value: %s\n\n", kp.DNSRecord())
	fmt.Fprintf(out, "Zone file:\n%s\n", kp.ZoneLine())
}
