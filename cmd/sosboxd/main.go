package main

import (
	"log"

	"github.com/AnuphutTuekham/SOS-BOX/server"
)

func main() {
	if err := server.Run(); err != nil {
		log.Fatalf("server stopped with error: %v", err)
	}
}
