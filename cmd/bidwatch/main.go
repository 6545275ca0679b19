package main

import (
	"bidwatch/cmd/bidwatch/commands"
	"bidwatch/pkg/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
