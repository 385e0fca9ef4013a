package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/edgetunnel/edgetunnel/internal/client"
)

var (
	connectServerAddr   string
	connectClientID     string
	connectSecret       string
	connectLocalBaseURL string
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect a local HTTP service through the tunnel",
	Long: `Dial out to a frontend server's tunnel port, register under a client
ID, and relay every request the frontend forwards to a local HTTP service,
sending the verbatim response back over the same connection.

Connections are retried with exponential backoff whenever they drop.`,
	Run: func(cmd *cobra.Command, args []string) {
		if connectSecret == "" {
			connectSecret = os.Getenv("EDGETUNNEL_SECRET")
		}
		if connectSecret == "" {
			log.Fatal("--secret or EDGETUNNEL_SECRET is required")
		}
		if connectClientID == "" {
			connectClientID = uuid.New().String()
		}

		c := client.New(client.Config{
			ServerAddr:   connectServerAddr,
			ClientID:     connectClientID,
			Secret:       []byte(connectSecret),
			LocalBaseURL: connectLocalBaseURL,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			sig := <-sigCh
			log.Printf("received %v, disconnecting...", sig)
			cancel()
		}()

		log.Printf("client: connecting to %s as %q (forwarding to %s)...", connectServerAddr, connectClientID, connectLocalBaseURL)
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("client: %v", err)
		}
		log.Println("client: disconnected")
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringVar(&connectServerAddr, "server", "", "Frontend tunnel address, host:port (required)")
	connectCmd.Flags().StringVar(&connectClientID, "client-id", "", "Client ID to register under (default: random UUID)")
	connectCmd.Flags().StringVar(&connectSecret, "secret", "", "Shared HMAC secret (or use EDGETUNNEL_SECRET)")
	connectCmd.Flags().StringVar(&connectLocalBaseURL, "local-base-url", "http://127.0.0.1:5000", "Base URL of the local HTTP service")

	connectCmd.MarkFlagRequired("server")
}
