package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/astrobak/astrobak/internal/blob"
	"github.com/astrobak/astrobak/internal/sync"
)

func init() {
	rootCmd.AddCommand(newCheckCmd())
}

// newCheckCmd builds the dry-run command. It runs the comparison phase only
// and prints what a sync would upload, without touching the journal.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show what would be uploaded, without uploading",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			client, err := blob.NewClientFromConfig(cmd.Context(), cfg.BlobConfig())
			if err != nil {
				return fmt.Errorf("s3 client: %w", err)
			}
			hasher, err := sync.NewCachingHasher(sync.MD5Hasher{}, digestCacheSize)
			if err != nil {
				return err
			}
			engine := sync.NewEngine(cfg.EngineConfig(), client, sync.NewDetector(hasher), sync.NewTracker(), nil)

			results, err := engine.Plan(cmd.Context())
			if err != nil {
				return err
			}

			printPlan(cmd, results)
			return nil
		},
	}
}

func printPlan(cmd *cobra.Command, results []sync.CheckResult) {
	out := cmd.OutOrStdout()

	var toUpload, upToDate, errored int
	var pendingBytes int64
	for _, r := range results {
		switch {
		case r.Err != nil:
			errored++
			fmt.Fprintf(out, "%s %s: %v\n", red("ERROR "), r.Item.Key, r.Err)
		case r.Outcome.NeedsUpload():
			toUpload++
			pendingBytes += r.Item.Size
			fmt.Fprintf(out, "%s %s (%s, %s)\n", green("UPLOAD"), r.Item.Key,
				humanize.Bytes(uint64(r.Item.Size)), r.Outcome)
		default:
			upToDate++
		}
	}

	fmt.Fprintf(out, "\n%d to upload (%s), %d up to date, %d errors\n",
		toUpload, humanize.Bytes(uint64(pendingBytes)), upToDate, errored)
}
