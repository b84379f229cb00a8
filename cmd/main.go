package main

import (
	"os"

	"github.com/soundprediction/mnemo/cmd/mnemo"
)

func main() {
	if err := mnemo.Execute(); err != nil {
		os.Exit(1)
	}
}
