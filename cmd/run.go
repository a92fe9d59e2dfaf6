package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/tasks"
)

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetches new bug reports from every tracked project once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTask(cmd, tasks.NameFetch, nil)
		},
	}
}

func newClassifyCmd() *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classifies stored bug reports",
		Long: `Without --ids, classifies every report that has no category yet.
With --ids, reclassifies exactly the listed reports.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var args map[string][]int64
			if len(ids) > 0 {
				parsed, err := parseIDs(ids)
				if err != nil {
					return err
				}
				args = map[string][]int64{tasks.ArgIDs: parsed}
			}
			return runTask(cmd, tasks.NameClassify, args)
		},
	}
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "comma separated report ids")
	return cmd
}

func newVectorizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vectorize",
		Short: "Stores document vectors for reports missing one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTask(cmd, tasks.NameVectorize, nil)
		},
	}
}

func runTask(cmd *cobra.Command, name string, args map[string][]int64) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	result, err := appInstance.RunOnce(cmd.Context(), name, args)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	fields := []zap.Field{zap.String("task", name)}
	for k, v := range result.State {
		fields = append(fields, zap.Int64(k, v))
	}
	appInstance.Logger().Info("task finished", fields...)
	fmt.Fprintln(cmd.OutOrStdout(), formatState(name, result.State))
	return nil
}

func parseIDs(raw []string) ([]int64, error) {
	out := make([]int64, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid report id %q", s)
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("--ids needs at least one id")
	}
	return out, nil
}

func formatState(name string, state map[string]int64) string {
	keys := []string{tasks.StateIssuesCount, tasks.StateClassified, tasks.StateVectorized}
	parts := []string{name, "done"}
	for _, k := range keys {
		if v, ok := state[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", k, v))
		}
	}
	return strings.Join(parts, " ")
}
