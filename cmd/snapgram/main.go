package main

import (
	"fmt"
	"os"

	"snapgram/internal/app"
)

func main() {
	if err := app.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "snapgram:", err)
		os.Exit(1)
	}
}
