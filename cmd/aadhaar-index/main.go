// Command aadhaar-index loads Aadhaar enrollment CSV dumps into a search index.
package main

import (
	"fmt"
	"os"

	"github.com/eunmann/aadhaar-index/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
