package main

import (
	"github.com/statelayer/statelayer/cli"
)

var (
	// AppName is the application name.
	AppName = "statelayer-node"

	// Version is the app version.
	Version = "latest"
)

func main() {
	cli.Execute(AppName, Version)
}
