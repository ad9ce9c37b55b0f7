package main

import (
	"os"

	"github.com/ppiankov/subwatch/internal/cli"
	_ "golang.org/x/crypto/x509roots/fallback" // root CAs for scratch containers
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
