package main

import (
	"log"

	"ndsb/cmd/ndsb/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
