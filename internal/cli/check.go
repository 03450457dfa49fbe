package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/e2llm/rpmrepo-snapshot/pkg/repo"
)

type checkOutput struct {
	Universe string   `json:"universe"`
	Repo     string   `json:"repo"`
	OK       bool     `json:"ok"`
	Warnings []string `json:"warnings"`
	Error    string   `json:"error,omitempty"`
}

func newCheckCmd(flags *globalFlags) *cobra.Command {
	var universe, repoName string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that the latest snapshot of a repo is complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}
			if _, ok := cfg.Find(universe, repoName); !ok {
				log.Warnf("%s/%s is not in the config, checking recorded data only", universe, repoName)
			}
			ctx := cmd.Context()
			e, err := newEnv(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.db.EnsureSchema(ctx); err != nil {
				return err
			}

			res := e.snapshotter.Check(ctx, repo.Universe(universe), repoName)
			out := checkOutput{Universe: universe, Repo: repoName, OK: res.Err == nil, Warnings: res.Warnings}
			if res.Err != nil {
				out.Error = res.Err.Error()
			}
			w := cmd.OutOrStdout()
			if flags.output == "json" {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else {
				for _, warning := range res.Warnings {
					fmt.Fprintf(w, "warn: %s\n", warning)
				}
				if res.Err == nil {
					fmt.Fprintf(w, "%s/%s: ok\n", universe, repoName)
				}
			}
			return res.Err
		},
	}
	cmd.Flags().StringVarP(&universe, "universe", "u", "", "universe of the repo")
	cmd.Flags().StringVarP(&repoName, "repo", "r", "", "repo name")
	_ = cmd.MarkFlagRequired("universe")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}
