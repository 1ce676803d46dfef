package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"imgshift/internal/api"
	"imgshift/internal/imageformat"
	"imgshift/internal/render"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var scope string
	var user string
	var addr string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show conversion statistics from the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(addr) == "" {
				addr = cfg.Paths.APIBind
			}
			if strings.TrimSpace(user) == "" {
				user = cfg.Admin.UserID
			}
			client := api.NewClient(addr, cfg.Paths.APIToken)
			view, err := client.Stats(cmd.Context(), user, scope)
			if err != nil {
				return fmt.Errorf("fetch stats from %s: %w", addr, err)
			}
			if asJSON {
				return writeJSON(cmd, view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Statistics (%s, %s)\n", view.Scope, view.Period)
			rows := [][]string{
				{"Images", fmt.Sprint(view.ImagesCount)},
				{"Input", render.Size(view.BytesIn)},
				{"Output", render.Size(view.BytesOut)},
				{"Saved", render.Size(view.BytesSaved)},
				{"Avg latency", fmt.Sprintf("%.1f ms", view.AverageLatencyMS)},
			}
			fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, rows, 1))

			if len(view.Histogram) > 0 {
				counts := make(map[imageformat.Format]int64, len(view.Histogram))
				for k, v := range view.Histogram {
					counts[imageformat.Format(k)] = v
				}
				hist := make([][]string, 0, len(counts))
				for _, f := range render.SortedFormats(counts) {
					hist = append(hist, []string{f.String(), fmt.Sprint(counts[f])})
				}
				fmt.Fprintln(out, renderTable([]string{"Source format", "Images"}, hist, 1))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "all", "Window: all, today or month")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Requesting user id (default admin.user_id)")
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default paths.api_bind)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}
