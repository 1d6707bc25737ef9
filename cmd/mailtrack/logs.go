package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailtrack/internal/logstore"
)

var logsName string

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the tracking logs",
	Long:  `Print the opens, clicks and sends logs, or a single one with --log.`,
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsName, "log", "", "only print one log: opens, clicks or sends")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	names := logstore.Names()
	if logsName != "" {
		names = []logstore.Name{logstore.Name(logsName)}
	}

	return printLogs(cmd.OutOrStdout(), logstore.NewStore(cfg.Storage.LogsDir), names)
}

func printLogs(out io.Writer, store *logstore.Store, names []logstore.Name) error {
	for i, name := range names {
		content, err := store.ReadAll(name)
		if err != nil {
			return err
		}
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "== %s ==\n", name)
		fmt.Fprint(out, content)
		if len(content) > 0 && content[len(content)-1] != '\n' {
			fmt.Fprintln(out)
		}
	}
	return nil
}
