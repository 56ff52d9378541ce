package browserprocess

import (
	"fmt"

	"github.com/grafana/browserguard/config"
)

// Args builds the argument vector the browser is launched with. The window
// covers a width x height screen from its top left corner, remote debugging
// listens on the configured port and the profile lives in userDataDir.
func Args(cfg config.BrowserConfig, userDataDir string, width, height int) []string {
	args := []string{
		cfg.InitURL,
		fmt.Sprintf("--remote-debugging-port=%d", cfg.DebuggingPort),
		fmt.Sprintf("--remote-debugging-address=%s", cfg.DebuggingAddress),
		"--window-position=0,0",
		fmt.Sprintf("--window-size=%d,%d", width, height),
		"--no-first-run",
		"--no-default-browser-check",
		"--start-maximized",
		"--no-sandbox",
		"--disable-dbus",
		"--disable-gpu",
		"--disable-software-rasterizer",
		"--disable-infobars",
		"--disable-blink-features=AutomationControlled",
		"--allow-file-access-from-files",
	}
	if cfg.LogFile != "" {
		args = append(args, "--enable-logging=file", "--log-file="+cfg.LogFile)
	}
	if userDataDir != "" {
		args = append(args, "--user-data-dir="+userDataDir)
	}
	if cfg.ExtensionDir != "" {
		args = append(args, "--load-extension="+cfg.ExtensionDir)
	}
	if cfg.JSHeapMB > 0 {
		args = append(args, fmt.Sprintf("--js-flags=--max_old_space_size=%d", cfg.JSHeapMB))
	}
	args = append(args, cfg.ExtraFlags()...)
	if cfg.Headless {
		args = append(args, "--headless")
	}

	return args
}
