package main

import (
	"context"
	"log"

	"go.pilab.hu/radsync/cmd/radctl/cmd"
	"go.pilab.hu/radsync/tracing"
)

func main() {
	tp, err := tracing.InitTracerProvider("radsync-radctl")
	if err != nil {
		log.Fatalf("Failed to initialize TracerProvider: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down TracerProvider: %v", err)
		}
	}()

	cmd.Execute()
}
