package main

import (
	"github.com/robotalks/uartbridge/pkg/cli/sh"

	_ "github.com/robotalks/uartbridge/pkg/cli/cmds/relay"
)

//go-build: CGO_ENABLED=0

func main() {
	sh.Main()
}
