package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/e2llm/rpmrepo-snapshot/pkg/metrics"
	"github.com/e2llm/rpmrepo-snapshot/pkg/snapshot"
)

func newSnapshotCmd(flags *globalFlags) *cobra.Command {
	var metricsTextfile string
	var strict bool
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Download and record a snapshot of every configured repo",
		Long: `Fetches every configured repo, stores new blobs and commits one
snapshot. Repos with errors are reported; the command fails when the commit
fails, or with --strict when any repo is incomplete.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := newEnv(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer e.Close()

			results, runErr := e.snapshotter.Run(ctx, cfg.Entries())
			if metricsTextfile != "" {
				if err := metrics.WriteTextfile(metricsTextfile, e.registry); err != nil {
					log.WithError(err).Warn("write metrics textfile")
				}
			}
			if runErr != nil {
				return runErr
			}
			summaries := lo.Map(results, func(r snapshot.Result, _ int) snapshot.Summary { return r.Summary() })
			if err := printSummaries(cmd.OutOrStdout(), flags.output, summaries); err != nil {
				return err
			}
			failed := lo.CountBy(summaries, func(s snapshot.Summary) bool { return !s.OK() })
			if strict && failed > 0 {
				return fmt.Errorf("%d of %d repos are incomplete", failed, len(summaries))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "write prometheus metrics to this file (node_exporter textfile format)")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any repo has errors")
	return cmd
}

func printSummaries(w io.Writer, format string, summaries []snapshot.Summary) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	for _, s := range summaries {
		status := "ok"
		if !s.OK() {
			status = "incomplete"
		}
		fmt.Fprintf(w, "%s/%s: %s (repodata: %d, rpms: %d, deduped: %d, failed: %d, filtered: %d)\n",
			s.Universe, s.Repo, status, s.Repodata, s.Rpms, s.Deduped, s.Failed, s.Filtered)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  error: %s\n", e)
		}
	}
	return nil
}
