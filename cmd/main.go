package main

import (
	"context"

	"github.com/queuectl/queuectl/cmd/cli"
)

func main() {
	cli.ExecuteContext(context.Background())
}
