package main

import (
	"os"

	"github.com/mezamarco14/resu-sistem/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
