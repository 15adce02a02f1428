package main

import (
	"fmt"
	"github.com/datagovtools/porter/cmd/porter/commands"
	"os"
)

func main() {

	err := commands.Execute()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
