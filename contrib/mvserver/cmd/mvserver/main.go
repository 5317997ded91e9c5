package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/surrealdb/multiversion/contrib/mvserver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mvserver.Main(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
