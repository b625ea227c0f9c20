package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hallpass/internal/gatekeeper"
	"github.com/ppiankov/hallpass/internal/hookrpc"
)

var (
	hookAddr    string
	hookTab     int
	hookStatus  string
	hookTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(hookCmd)
	hookCmd.Flags().StringVar(&hookAddr, "addr", "", "gRPC hook address (default grpc_addr from config)")
	hookCmd.Flags().IntVar(&hookTab, "tab", 1, "Tab id to report")
	hookCmd.Flags().StringVar(&hookStatus, "status", gatekeeper.StatusComplete, "Tab load status to report")
	hookCmd.Flags().DurationVar(&hookTimeout, "timeout", 5*time.Second, "RPC timeout")
}

var hookCmd = &cobra.Command{
	Use:   "hook <url>",
	Short: "Report a navigation to a running daemon over gRPC",
	Long: "Sends one navigation-completed event to the daemon's gRPC hook and\n" +
		"prints the decision. Counts a visit exactly like a browser bridge would.",
	Args: cobra.ExactArgs(1),
	RunE: runHook,
}

func runHook(cmd *cobra.Command, args []string) error {
	addr := hookAddr
	if addr == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		addr = cfg.GRPCAddr
	}
	if addr == "" {
		return fmt.Errorf("no gRPC address given and grpc_addr is not configured")
	}

	client, err := hookrpc.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	d, err := client.NavigationCompleted(ctx, gatekeeper.NavigationEvent{
		TabID:  hookTab,
		URL:    args[0],
		Status: hookStatus,
	})
	if err != nil {
		return fmt.Errorf("navigation hook: %w", err)
	}
	out, _ := json.MarshalIndent(d, "", "  ")
	fmt.Println(string(out))
	return nil
}
