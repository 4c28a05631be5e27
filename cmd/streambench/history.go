package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ciricc/go-stream-bench/internal/config"
	"github.com/ciricc/go-stream-bench/pkg/benchreport"
)

func historyCmd() *cobra.Command {
	var (
		output     string
		maxResults int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the best sustained stream count per run, encoder and resolution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			cfg.OutputDir = output
			path := cfg.PersistentLogPath()
			results, skipped, err := benchreport.ReadPersistentLog(path)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}
			best := benchreport.BestByConfiguration(results)
			if len(best) == 0 {
				return fmt.Errorf("no trials recorded in %s", path)
			}
			if maxResults > 0 && maxResults < len(best) {
				best = best[:maxResults]
			}

			w := cmd.OutOrStdout()
			for i, b := range best {
				fmt.Fprintf(w, "%d) %d streams  encoder=%s resolution=%s\n", i+1, b.MaxStreams, b.Encoder, b.Resolution)
				fmt.Fprintf(w, "   cpu=%q gpu=%q video=%s trials=%d run=%s\n", b.CPUName, b.GPUName, b.VideoFile, b.Trials, b.RunID)
			}
			if skipped > 0 {
				fmt.Fprintf(w, "(%d malformed lines skipped)\n", skipped)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", config.Default().OutputDir, "output directory holding the history log")
	cmd.Flags().IntVarP(&maxResults, "top", "n", 10, "number of configurations to print")
	return cmd
}
