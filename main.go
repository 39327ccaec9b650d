package main

import (
	"os"

	"github.com/spigell/grant-interviewer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
