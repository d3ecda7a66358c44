package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wwwzy/mcpagent/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd 是没有子命令时调用的基础命令
var rootCmd = &cobra.Command{
	Use:   "mcpagent",
	Short: "mcpagent 是一个通过 MCP 服务器发现并调用工具的对话 Agent",
	Long: `mcpagent 从配置的 MCP 服务器发现工具，交给大模型按需调用，
并以对话的方式返回结果。支持 ark、openai、anthropic 三种模型提供方。`,
	SilenceUsage: true,
}

// Execute 将所有子命令添加到根命令并适当设置标志。
// 这由 main.main() 调用。它只需要对 rootCmd 调用一次。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件（默认按 ./config.yaml、$HOME/.mcpagent/config.yaml 搜索）")
}

// initConfig 读取配置文件和环境变量（如果已设置）。
func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
