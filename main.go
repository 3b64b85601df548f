package main

import (
	"os"

	"github.com/firmsync/firmsync/internal/cli"
)

func main() {
	cli.InitCLI()
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
