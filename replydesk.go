package main

import (
	"fmt"
	"os"

	"github.com/replydesk/cmd"
)

func main() {
	err := cmd.App().Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
