/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Create API handler with dependencies
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port          HTTP server port (default: 8080)
  -db            SQLite database path (default: loyalty.db)
                 Use ":memory:" for an in-memory database
  -bonus-secret  Shared secret for the signed /api/bonus endpoint.
                 Empty disables the endpoint.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/loyalty.db"

  # Run with the partner bonus API enabled
  ./server -bonus-secret="$(cat /etc/loyalty/bonus.secret)"

ENVIRONMENT:
  No environment variables currently. All config via flags.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fixpoint/loyalty-engine/api"
	"github.com/fixpoint/loyalty-engine/loyalty"
	"github.com/fixpoint/loyalty-engine/store/sqlite"
)

// logNotifier writes notification decisions to the server log. Stands in
// until a mail/SMS transport is wired; the one-time secret is NOT logged.
type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, n loyalty.Notification) error {
	switch n.Kind {
	case loyalty.NotifyWelcome:
		log.Printf("notify welcome: account=%s store=%s", n.Account.Email, n.StoreID)
	case loyalty.NotifyPointsEarned:
		log.Printf("notify points earned: account=%s store=%s points=%d balance=%d",
			n.Account.Email, n.StoreID, n.Points, n.Balance)
	case loyalty.NotifyRewardAvailable:
		log.Printf("notify reward available: account=%s store=%s reward=%q",
			n.Account.Email, n.StoreID, n.RewardName)
	}
	return nil
}

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "loyalty.db", "SQLite database path")
	bonusSecret := flag.String("bonus-secret", "", "shared secret for the signed bonus API (empty disables it)")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler and router
	handler := api.NewHandler(store, logNotifier{}, *bonusSecret)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		if *bonusSecret == "" {
			log.Printf("Bonus API disabled (no -bonus-secret)")
		}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
