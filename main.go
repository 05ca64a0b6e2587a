package main

import (
	"github.com/sidkik/site/cmd"
	"github.com/sidkik/site/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
