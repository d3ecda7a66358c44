package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wwwzy/mcpagent/internal/session"
	"github.com/wwwzy/mcpagent/internal/tui"
	"github.com/wwwzy/mcpagent/internal/ui"
)

var (
	chatUI    string
	chatModel string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式对话模式",
	Long: `进入交互式对话。Agent 会在需要时调用 MCP 服务器提供的工具。
内置命令：quit/exit/bye 退出，history 查看历史，clear 清空历史，info 查看当前模型。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		var uiImpl ui.ChatUI
		var logOut io.Writer = os.Stderr
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			uiImpl = &tui.ChatUI{}
			// 全屏界面下日志会打乱画面
			logOut = io.Discard
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}

		logger, err := newLogger(logOut)
		if err != nil {
			return err
		}

		rt, err := newRuntime(ctx, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		a, err := rt.newAgent(ctx, chatModel)
		if err != nil {
			return err
		}

		scfg := session.Config{
			Agent:      a,
			MaxHistory: cfg.Agent.MaxHistory,
			Logger:     logger,
		}
		if rt.store != nil {
			scfg.Journal = rt.store
		}
		sess, err := session.New(scfg)
		if err != nil {
			return err
		}

		rt.startRetention(ctx)

		return uiImpl.Run(ctx, sess, ui.ChatOptions{
			Title: a.Name(),
			SwitchModel: func(ctx context.Context, modelID string) error {
				next, err := rt.newAgent(ctx, modelID)
				if err != nil {
					return err
				}
				return sess.SetAgent(next)
			},
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "覆盖 llm.model，例如 openai:gpt-4o")
}
