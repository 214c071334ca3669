package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/testserver"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	userID := flag.String("user", "123", "user to seed")
	balance := flag.Int("balance", 1000, "seeded balance")
	strictConflict := flag.Bool("strict-conflict", false, "answer insufficient funds with HTTP 409")
	flag.Parse()

	srv := testserver.NewWithOptions(testserver.Options{StrictConflict: *strictConflict})
	srv.SetBalance(*userID, *balance)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("withdrawal service double listening on %s (user=%s balance=%d)", *addr, *userID, *balance)
	log.Fatal(httpServer.ListenAndServe())
}
