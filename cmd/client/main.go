package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bridgekit-io/mathteacher/cli"
)

func main() {
	if err := (cli.Call{}).Command().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
}
