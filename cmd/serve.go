package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgetunnel/edgetunnel/internal/frontend"
)

var (
	serveHTTPAddr        string
	serveTunnelAddr      string
	serveAdminAddr       string
	serveSecret          string
	serveRequestTimeout  time.Duration
	serveEvictionMaxIdle time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the frontend server",
	Long: `Run the frontend server: it exposes a public HTTP port that forwards
requests to whichever tunnel client is currently connected, and a tunnel
port that tunnel clients dial into.`,
	Run: func(cmd *cobra.Command, args []string) {
		if serveSecret == "" {
			serveSecret = os.Getenv("EDGETUNNEL_SECRET")
		}
		if serveSecret == "" {
			log.Fatal("--secret or EDGETUNNEL_SECRET is required")
		}

		srv := frontend.New(frontend.Config{
			HTTPAddr:        serveHTTPAddr,
			TunnelAddr:      serveTunnelAddr,
			AdminAddr:       serveAdminAddr,
			Secret:          []byte(serveSecret),
			RequestTimeout:  serveRequestTimeout,
			EvictionMaxIdle: serveEvictionMaxIdle,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			sig := <-sigCh
			log.Printf("received %v, shutting down...", sig)
			cancel()
		}()

		log.Printf("frontend: public HTTP on %s, tunnel on %s", serveHTTPAddr, serveTunnelAddr)
		if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("frontend: %v", err)
		}
		log.Println("frontend: shut down cleanly")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHTTPAddr, "http-addr", ":8080", "Public HTTP listen address")
	serveCmd.Flags().StringVar(&serveTunnelAddr, "tunnel-addr", ":8081", "Tunnel listen address")
	serveCmd.Flags().StringVar(&serveAdminAddr, "admin-addr", "127.0.0.1:9090", "Admin (health/status) listen address")
	serveCmd.Flags().StringVar(&serveSecret, "secret", "", "Shared HMAC secret (or use EDGETUNNEL_SECRET)")
	serveCmd.Flags().DurationVar(&serveRequestTimeout, "request-timeout", frontend.DefaultRequestTimeout, "How long to wait for a tunnel client's response")
	serveCmd.Flags().DurationVar(&serveEvictionMaxIdle, "eviction-max-idle", 5*time.Minute, "Idle duration after which a tunnel client is evicted")
}
