package main

import (
	"vortex-ramp/internal/cli"
)

func main() {
	cli.Execute()
}
