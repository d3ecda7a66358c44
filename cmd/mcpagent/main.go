package main

import (
	"os"

	"github.com/wwwzy/mcpagent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
