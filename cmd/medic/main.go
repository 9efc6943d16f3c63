package main

import "github.com/opsforge/medic/internal/cli"

func main() {
	cli.Execute()
}
