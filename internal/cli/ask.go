package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wwwzy/mcpagent/internal/session"
)

var (
	askOut   string
	askModel string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "单次提问，回复打印到终端并追加写入文件",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		logger, err := newLogger(os.Stderr)
		if err != nil {
			return err
		}
		rt, err := newRuntime(ctx, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		a, err := rt.newAgent(ctx, askModel)
		if err != nil {
			return err
		}
		scfg := session.Config{Agent: a, MaxHistory: cfg.Agent.MaxHistory, Logger: logger}
		if rt.store != nil {
			scfg.Journal = rt.store
		}
		sess, err := session.New(scfg)
		if err != nil {
			return err
		}

		reply := sess.Send(ctx, strings.Join(args, " "))
		fmt.Fprintln(cmd.OutOrStdout(), reply)

		if askOut == "" {
			return nil
		}
		return appendFile(askOut, reply)
	},
}

func appendFile(path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开输出文件失败: %w", err)
	}
	if _, err := f.WriteString(text + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("写入输出文件失败: %w", err)
	}
	return f.Close()
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askOut, "out", "response.txt", "回复追加写入的文件，为空时不写文件")
	askCmd.Flags().StringVar(&askModel, "model", "", "覆盖 llm.model，例如 anthropic:claude-3-7-sonnet-latest")
}
