package main

import (
	"log"

	"panel/cmd/internal/agent"
)

func main() {
	if err := agent.Run(); err != nil {
		log.Fatal(err)
	}
}
