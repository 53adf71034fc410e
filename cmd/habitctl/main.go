// Command habitctl logs habits and inspects aggregates in a habit ledger
// database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/warp/habit-engine/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "habitctl: %v\n", err)
		os.Exit(1)
	}
}
