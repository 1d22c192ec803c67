package main

import (
	"log"

	"gozon/checkout-service/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("checkout service failed: %v", err)
	}
}
