package browserprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grafana/browserguard/config"
)

func TestArgs(t *testing.T) {
	t.Parallel()

	cfg := config.BrowserConfig{
		InitURL:          "https://example.com/",
		DebuggingPort:    9222,
		DebuggingAddress: "0.0.0.0",
		LogFile:          "/tmp/chromium.log",
		JSHeapMB:         256,
		Flags:            "--lang=de --mute-audio",
	}

	args := Args(cfg, "/data/profile", 1280, 720)

	assert.Equal(t, "https://example.com/", args[0], "the initial URL comes first")
	assert.Contains(t, args, "--remote-debugging-port=9222")
	assert.Contains(t, args, "--remote-debugging-address=0.0.0.0")
	assert.Contains(t, args, "--window-position=0,0")
	assert.Contains(t, args, "--window-size=1280,720")
	assert.Contains(t, args, "--start-maximized")
	assert.Contains(t, args, "--enable-logging=file")
	assert.Contains(t, args, "--log-file=/tmp/chromium.log")
	assert.Contains(t, args, "--user-data-dir=/data/profile")
	assert.Contains(t, args, "--js-flags=--max_old_space_size=256")
	assert.Equal(t, []string{"--lang=de", "--mute-audio"}, args[len(args)-2:])
	assert.NotContains(t, args, "--headless")

	for _, a := range args {
		assert.NotContains(t, a, "--load-extension")
	}
}

func TestArgsOptional(t *testing.T) {
	t.Parallel()

	cfg := config.BrowserConfig{
		InitURL:       "chrome://newtab/",
		DebuggingPort: 9333,
		ExtensionDir:  "/opt/ext",
		Headless:      true,
	}

	args := Args(cfg, "", 800, 600)

	assert.Contains(t, args, "--load-extension=/opt/ext")
	assert.Equal(t, "--headless", args[len(args)-1])
	for _, a := range args {
		assert.NotContains(t, a, "--user-data-dir")
		assert.NotContains(t, a, "--log-file")
		assert.NotContains(t, a, "--js-flags")
	}
}
