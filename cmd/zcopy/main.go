// Command zcopy runs producers and consumers of zero-copy instances.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/zerocopy/cmd/zcopy/commands"
)

// Set with -ldflags "-X main.version=..." at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetBuildInfo(version, commit, date)
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "zcopy:", err)
		os.Exit(1)
	}
}
