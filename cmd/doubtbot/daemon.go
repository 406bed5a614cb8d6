package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"doubtbot/internal/config"

	"github.com/spf13/cobra"
)

const launchdLabel = "com.doubtbot.gateway"

// daemonSpec carries everything a generated service file needs: the binary,
// the config it should run with, and where the gateway's output goes.
type daemonSpec struct {
	Label  string
	Exec   string
	Config string
	Log    string
	ErrLog string
}

// newDaemonSpec builds the spec for the current installation. The log path
// comes from the config's general.log_file when set, otherwise it defaults
// to a logs directory next to the config.
func newDaemonSpec() (daemonSpec, error) {
	execPath, err := os.Executable()
	if err != nil {
		return daemonSpec{}, fmt.Errorf("cannot determine executable path: %w", err)
	}

	cfgPath := resolveConfigPath()
	logPath := ""
	if cfg, err := config.Load(cfgPath); err == nil {
		logPath = cfg.General.LogFile
	}
	if logPath == "" {
		logPath = filepath.Join(config.DefaultConfigDir(), "logs", "doubtbot.log")
	}

	return daemonSpec{
		Label:  launchdLabel,
		Exec:   execPath,
		Config: cfgPath,
		Log:    logPath,
		ErrLog: errorLogPath(logPath),
	}, nil
}

// errorLogPath derives the stderr log path from the main log path, keeping
// the extension: doubtbot.log becomes doubtbot-error.log.
func errorLogPath(logPath string) string {
	ext := filepath.Ext(logPath)
	return strings.TrimSuffix(logPath, ext) + "-error" + ext
}

func (s daemonSpec) render(name, tmpl string) (string, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, s); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install DoubtBot as a system daemon (launchd/systemd)",
		Long:  "Generates and installs a service file to run the DoubtBot gateway as a background daemon on system startup.",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := newDaemonSpec()
			if err != nil {
				return err
			}

			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(spec)
			case "linux":
				return installSystemd(spec)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
}

func uninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the DoubtBot system daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch runtime.GOOS {
			case "darwin":
				return uninstallLaunchd()
			case "linux":
				return uninstallSystemd()
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
		},
	}
}

func installLaunchd(spec daemonSpec) error {
	home, _ := os.UserHomeDir()
	plistDir := filepath.Join(home, "Library", "LaunchAgents")
	plistPath := filepath.Join(plistDir, spec.Label+".plist")

	// launchd redirects stdout/stderr itself, so the log directory must
	// exist before the job starts.
	os.MkdirAll(filepath.Dir(spec.Log), 0o755)

	plist, err := spec.render("launchd", launchdTemplate)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(plistDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(plistPath, []byte(plist), 0o644); err != nil {
		return err
	}

	fmt.Printf("Daemon installed: %s\n", plistPath)
	fmt.Printf("To start: launchctl load %s\n", plistPath)
	fmt.Printf("To stop:  launchctl unload %s\n", plistPath)
	return nil
}

func uninstallLaunchd() error {
	home, _ := os.UserHomeDir()
	plistPath := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
	if err := os.Remove(plistPath); err != nil {
		return fmt.Errorf("remove plist: %w", err)
	}
	fmt.Printf("Daemon uninstalled: %s\n", plistPath)
	return nil
}

func installSystemd(spec daemonSpec) error {
	home, _ := os.UserHomeDir()
	unitDir := filepath.Join(home, ".config", "systemd", "user")
	unitPath := filepath.Join(unitDir, "doubtbot.service")

	unit, err := spec.render("systemd", systemdTemplate)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(unitPath, []byte(unit), 0o644); err != nil {
		return err
	}

	fmt.Printf("Daemon installed: %s\n", unitPath)
	fmt.Printf("To start:  systemctl --user start doubtbot\n")
	fmt.Printf("To enable: systemctl --user enable doubtbot\n")
	fmt.Printf("To stop:   systemctl --user stop doubtbot\n")
	return nil
}

func uninstallSystemd() error {
	home, _ := os.UserHomeDir()
	unitPath := filepath.Join(home, ".config", "systemd", "user", "doubtbot.service")
	if err := os.Remove(unitPath); err != nil {
		return fmt.Errorf("remove unit: %w", err)
	}
	fmt.Printf("Daemon uninstalled: %s\n", unitPath)
	return nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>gateway</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLog}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=DoubtBot Gateway
After=network.target

[Service]
Type=simple
ExecStart={{.Exec}} gateway --config {{.Config}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
