package cmd

import (
	"fmt"
	"os"

	"github.com/bnema/wayime/internal/trace"
	"github.com/bnema/wayime/internal/ui"
	"github.com/spf13/cobra"
)

var traceInterface string

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect recorded traces",
}

var traceDumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Print a trace as a transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open trace: %w", err)
		}
		defer f.Close()

		out := cmd.OutOrStdout()
		r := trace.NewReader(f)
		records, err := r.ReadAll()
		for _, rec := range records {
			if traceInterface != "" && rec.Interface != traceInterface {
				continue
			}
			fmt.Fprintln(out, ui.FormatRecord(rec))
		}
		if err != nil {
			return fmt.Errorf("%s: after %d records: %w", args[0], len(records), err)
		}
		return nil
	},
}

func init() {
	traceDumpCmd.Flags().StringVarP(&traceInterface, "interface", "i", "", "only show messages on this interface")
	traceCmd.AddCommand(traceDumpCmd)
}
