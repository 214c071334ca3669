package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/testserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the in-memory withdrawal service double",
	Long: `Start an in-memory double of the withdrawal service for local runs
and harness development. It implements the HTTP contract (init, the
five withdrawal variants, balance, health) without the real server's
Redis locking strategies.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().String("user", "", "seed a user balance on startup (format userId:balance)")
	serveCmd.Flags().Bool("strict-conflict", false, "answer insufficient funds with HTTP 409 instead of 200")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	seed, _ := cmd.Flags().GetString("user")
	strictConflict, _ := cmd.Flags().GetBool("strict-conflict")

	srv := testserver.NewWithOptions(testserver.Options{StrictConflict: strictConflict})

	if seed != "" {
		userID, balanceStr, ok := strings.Cut(seed, ":")
		if !ok || userID == "" {
			return fmt.Errorf("invalid --user %q: expected userId:balance", seed)
		}
		balance, err := strconv.Atoi(balanceStr)
		if err != nil {
			return fmt.Errorf("invalid --user %q: expected userId:balance", seed)
		}
		srv.SetBalance(userID, balance)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("withdrawal service double listening on %s\n", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
