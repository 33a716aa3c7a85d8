//go:build windows

package hlog

import (
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/mattn/go-isatty"
)

func debugInit(msg string) {
	if os.Getenv("LUCI_LOG_INIT") != "" {
		os.Stderr.WriteString("luci#Init: " + msg + "\n")
	}
}

func IsTerminal() bool {
	if !service.Interactive() {
		return false
	}
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

func getLogDir() string {
	if !service.Interactive() {
		return filepath.Join(filepath.VolumeName(os.Getenv("SystemDrive")), "ProgramData", "Luci", "logs")
	}

	appData := os.Getenv("LOCALAPPDATA")
	if appData == "" {
		appData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
	}
	return filepath.Join(appData, "Luci", "logs")
}
