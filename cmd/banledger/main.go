// Command banledger records, escalates, restores and purges bans.
package main

import (
	"os"

	"github.com/roach88/banledger/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
