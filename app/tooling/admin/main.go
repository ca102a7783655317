package main

import (
	"fmt"
	"os"

	"github.com/norsh/blockchain/app/tooling/admin/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
