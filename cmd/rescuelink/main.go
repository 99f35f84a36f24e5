package main

import (
	"os"

	"rescuelink/internal/cli"
)

func main() {
	os.Exit(cli.Run("rescuelink", os.Args[1:]))
}
