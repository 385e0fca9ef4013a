package main

import (
	"github.com/edgetunnel/edgetunnel/cmd"
)

func main() {
	cmd.Execute()
}
