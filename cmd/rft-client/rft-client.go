/*
rft-client sends a file to an rft receiver over UDP.
*/
package main

import "github.com/skycoin/rft/cmd/rft-client/commands"

func main() {
	commands.Execute()
}
