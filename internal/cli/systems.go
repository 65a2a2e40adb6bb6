package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/homelab-tools/beszel-proxy/internal/config"
	"github.com/homelab-tools/beszel-proxy/internal/domain/systems"
	"github.com/homelab-tools/beszel-proxy/internal/logger"
	"github.com/homelab-tools/beszel-proxy/internal/widget"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#60a5fa"))
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e"))
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

func newSystemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "systems",
		Short: "Fetch the hub's systems once and print them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := withFetchTimeout(cmd.Context(), cfg)
			defer cancel()

			client := newHubClient(cfg, logger.Discard(), nil)
			snap, err := client.FetchSystems(ctx)
			if err != nil {
				return err
			}

			printSystems(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func printSystems(w io.Writer, snap systems.Snapshot) {
	if snap.Count() == 0 {
		fmt.Fprintln(w, "no systems found")
		return
	}

	header := []string{"", "NAME", "HOST", "CPU", "MEM", "DISK", "UPTIME"}
	rows := make([][]string, 0, snap.Count())
	for _, sys := range snap.Items {
		rows = append(rows, []string{
			"●",
			sys.Name,
			sys.Host,
			fmt.Sprintf("%.1f%%", sys.Info.CPU),
			fmt.Sprintf("%.1f%%", sys.Info.MemPercent),
			fmt.Sprintf("%.1f%%", sys.Info.DiskPercent),
			widget.FormatUptime(sys.Info.Uptime),
		})
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if cw := lipgloss.Width(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	cells := make([]string, len(header))
	for i, h := range header {
		cells[i] = headerStyle.Inherit(cellStyle).Width(widths[i] + 2).Render(h)
	}
	fmt.Fprintln(w, strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " "))

	for n, row := range rows {
		dot := downStyle
		if snap.Items[n].Up() {
			dot = upStyle
		}
		for i, cell := range row {
			style := cellStyle
			if i == 0 {
				style = dot.Inherit(cellStyle)
			}
			cells[i] = style.Width(widths[i] + 2).Render(cell)
		}
		fmt.Fprintln(w, strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " "))
	}
}

// withFetchTimeout keeps one-shot CLI fetches from hanging on an unreachable hub.
func withFetchTimeout(ctx context.Context, cfg config.Config) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, 2*cfg.UpstreamTimeout)
}
