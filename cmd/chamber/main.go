// Command chamber is a command-line client for the chamber messenger.
package main

import "github.com/opd-ai/chamber/cmd/chamber/internal/cmd"

func main() {
	cmd.Execute()
}
