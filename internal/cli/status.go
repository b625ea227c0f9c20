package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hallpass/internal/store"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw snapshot as JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current hall pass, settings and visit counts",
	Long:  "Reads the store the daemon uses and prints what it holds.\nMissing values are shown as their defaults.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	snap, err := store.NewGrants(st).Snapshot(context.Background())
	if err != nil {
		return fmt.Errorf("read store: %w", err)
	}

	if statusJSON {
		out, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	printStatus(os.Stdout, snap, time.Now())
	return nil
}

func printStatus(w io.Writer, snap store.Snapshot, now time.Time) {
	if snap.Pass.Active(now) {
		fmt.Fprintf(w, "Hall pass: active, %s left (until %s)\n",
			snap.Pass.Remaining(now).Round(time.Second),
			time.UnixMilli(snap.Pass.ExpiresAt).Format("15:04:05"))
	} else {
		fmt.Fprintln(w, "Hall pass: none")
	}
	fmt.Fprintf(w, "Mode: %s, unlock %d min\n", snap.Settings.Mode, snap.Settings.UnlockDurationMinutes)
	if len(snap.Settings.BlockedSites) == 0 {
		fmt.Fprintln(w, "Blocked: (none)")
	} else {
		fmt.Fprintf(w, "Blocked: %s\n", strings.Join(snap.Settings.BlockedSites, ", "))
	}
	if len(snap.VisitCounts) == 0 {
		return
	}
	fmt.Fprintf(w, "Visits (%d total):\n", snap.VisitCounts.Total())
	for _, vc := range snap.VisitCounts {
		fmt.Fprintf(w, "  %-30s %d\n", vc.Key, vc.Count)
	}
}
