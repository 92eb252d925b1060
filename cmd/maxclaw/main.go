package main

import (
	"os"

	"github.com/maxclaw/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
