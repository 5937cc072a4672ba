/*
rudp node
*/
package main

import "github.com/skycoin/rudp/cmd/rudp-node/commands"

func main() {
	commands.Execute()
}
