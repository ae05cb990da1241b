package main

import "github.com/OpenTraceLab/OpenTraceQDAC/cmd/otq/cmd"

func main() {
	cmd.Execute()
}
