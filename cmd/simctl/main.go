package main

import (
	"os"

	"github.com/danmuck/simctl/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
