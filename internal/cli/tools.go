package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wwwzy/mcpagent/internal/registry"
)

var toolsTimeout time.Duration

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "列出 MCP 服务器提供的工具",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, toolsTimeout)
		defer cancelTimeout()

		logger, err := newLogger(os.Stderr)
		if err != nil {
			return err
		}
		reg, err := registry.New(cfg.Servers(), registry.WithLogger(logger), registry.WithClientVersion(Version))
		if err != nil {
			return err
		}
		defer reg.Close()

		set, err := reg.FetchTools(ctx)
		if err != nil {
			return err
		}
		if set.Len() == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tools discovered.")
			return nil
		}

		type row struct{ server, name, desc string }
		rows := make([]row, 0, set.Len())
		for _, t := range set.Tools {
			info, err := t.Info(ctx)
			if err != nil {
				return err
			}
			r := row{name: info.Name, desc: firstLine(info.Desc)}
			if s, ok := t.(interface{ Server() string }); ok {
				r.server = s.Server()
			}
			rows = append(rows, r)
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].server != rows[j].server {
				return rows[i].server < rows[j].server
			}
			return rows[i].name < rows[j].name
		})

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "Server\tTool\tDescription")
		fmt.Fprintln(w, "------\t----\t-----------")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.server, r.name, r.desc)
		}
		return w.Flush()
	},
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 80 {
		s = string(r[:77]) + "..."
	}
	return s
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().DurationVar(&toolsTimeout, "timeout", 30*time.Second, "工具发现的超时时间")
}
