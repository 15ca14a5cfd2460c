// The main package for the ticketwatch executable.
package main

import (
	"github.com/ticketwatch/ticketwatch/cmd"
)

func main() {
	cmd.Execute()
}
