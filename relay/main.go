package main

import (
	"os"

	"github.com/jupiter/notifier/relay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
