package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hallpass/internal/config"
	"github.com/ppiankov/hallpass/internal/settings"
	"github.com/ppiankov/hallpass/internal/store"
	"github.com/ppiankov/hallpass/internal/systemd"
)

const unitHashFile = "unit-file.sha256"

var (
	initDir            string
	initInstallSystemd bool
	initForce          bool
)

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", "", "Config directory (default ~/.hallpass)")
	initCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install a systemd user unit that runs hallpass serve")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap hallpass configuration",
	Long: `Creates the config directory with a daemon config and a settings file
holding the default block list, friction mode and unlock duration.

With --install-systemd: installs ~/.config/systemd/user/hallpass.service
so the daemon starts with your session:
  systemctl --user enable --now hallpass`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := initDir
	if dir == "" {
		dir = store.DefaultDir()
	}

	var created []string

	settingsPath := filepath.Join(dir, "settings.yaml")
	if wrote, err := writeIfMissing(settingsPath, settings.DefaultYAML()); err != nil {
		return err
	} else if wrote {
		created = append(created, settingsPath)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	cfgContent := config.DefaultConfigYAML() + fmt.Sprintf("\nsettings_file: %s\n", settingsPath)
	if wrote, err := writeIfMissing(cfgPath, cfgContent); err != nil {
		return err
	} else if wrote {
		created = append(created, cfgPath)
	}

	if initInstallSystemd {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("--install-systemd is only supported on Linux")
		}
		unitDir, err := systemd.UserUnitDir()
		if err != nil {
			return err
		}
		bin, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate hallpass binary: %w", err)
		}
		unitPath, err := systemd.Install(unitDir, systemd.UserUnit(bin, cfgPath), filepath.Join(dir, unitHashFile))
		if err != nil {
			return err
		}
		created = append(created, unitPath)

		if err := exec.Command("systemctl", "--user", "daemon-reload").Run(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: systemctl --user daemon-reload failed: %v\n", err)
		}
	}

	fmt.Println("hallpass init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, path := range created {
			fmt.Printf("  %s\n", path)
		}
		fmt.Println()
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
		fmt.Println()
	}

	fmt.Println("Start the daemon:")
	if initInstallSystemd {
		fmt.Println("  systemctl --user enable --now hallpass")
	} else {
		fmt.Printf("  hallpass serve --config %s\n", cfgPath)
	}
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// checkUnitIntegrity warns when the installed user unit was edited.
func checkUnitIntegrity() string {
	unitDir, err := systemd.UserUnitDir()
	if err != nil {
		return ""
	}
	return systemd.CheckUnitFileIntegrity(
		filepath.Join(unitDir, systemd.UnitName),
		filepath.Join(store.DefaultDir(), unitHashFile),
	)
}
