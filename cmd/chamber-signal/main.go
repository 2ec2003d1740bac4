// Command chamber-signal runs the rendezvous server chamber clients use to
// set up WebRTC connections.
package main

import "github.com/opd-ai/chamber/cmd/chamber-signal/internal/cmd"

func main() {
	cmd.Execute()
}
