package main

import (
	"os"

	"github.com/dshills/codectx-mcp/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
