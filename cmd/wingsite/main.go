// Command wingsite serves the Wing Heights brochure site.
package main

import (
	"fmt"
	"os"

	"github.com/wingheights/wingsite/cmd/wingsite/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
