package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bridgekit-io/mathteacher/cli"
)

func main() {
	if err := (cli.Serve{}).Command().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}
