// Command dispatcher runs the multi-agent dispatcher bot.
package main

import (
	"os"

	"github.com/hupe1980/agentdispatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
