package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hitoshi/blogdigest/internal/app"
)

func main() {
	if err := app.Run(context.Background(), os.Args[1:]); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
