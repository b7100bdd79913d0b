package main

import (
	"os"

	"github.com/airswap/aggregator-aggregator/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
