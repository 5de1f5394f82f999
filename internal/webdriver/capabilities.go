package webdriver

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// Capabilities builds the W3C WebDriver "capabilities" payload for the
// given browser, grounded literally on original_source's
// webdriver_capabilities (spec §6.3).
func Capabilities(browser Browser, headless bool) map[string]any {
	always := map[string]any{"acceptInsecureCerts": true}

	switch browser {
	case Firefox:
		args := []string{}
		if headless {
			args = append(args, "-headless")
		}
		prefs := map[string]any{
			"browser.cache.disk.enable":   false,
			"browser.cache.memory.enable": false,
			"browser.sessionhistory.max_total_viewers": 0,
		}
		always["moz:firefoxOptions"] = map[string]any{
			"args":  args,
			"prefs": prefs,
		}
	case Edge:
		args := chromiumCacheDisablingArgs()
		if headless {
			args = append(args, "--headless=new")
		}
		always["ms:edgeOptions"] = map[string]any{"args": args}
	case Chrome, Safari:
		// Safari maps to Chrome capabilities; Safari is never preferred
		// when alternatives exist (spec §4.1) but may still be the
		// explicit choice of a single-browser run.
		profileDir := fmt.Sprintf("gh0st-chrome-profile-%d-%d", os.Getpid(), time.Now().UnixNano())
		args := []string{
			"--user-data-dir=" + profileTempPath(profileDir),
			"--window-size=1400,1200",
			"--disable-gpu",
			"--disable-dev-shm-usage",
			"--remote-debugging-port=0",
			"--no-first-run",
			"--no-default-browser-check",
			"--disable-crash-reporter",
		}
		args = append(args, chromiumCacheDisablingArgsOnly()...)
		if runtime.GOOS != "darwin" {
			args = append(args, "--no-sandbox")
		}
		if headless {
			args = append(args, "--headless=new")
		}
		always["goog:chromeOptions"] = map[string]any{"args": args}
	default:
		always["goog:chromeOptions"] = map[string]any{"args": chromiumCacheDisablingArgsOnly()}
	}

	return map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": always,
		},
	}
}

func chromiumCacheDisablingArgsOnly() []string {
	return []string{
		"--disable-cache",
		"--aggressive-cache-discard",
		"--disk-cache-size=0",
		"--media-cache-size=0",
	}
}

func chromiumCacheDisablingArgs() []string {
	return chromiumCacheDisablingArgsOnly()
}

func profileTempPath(name string) string {
	return os.TempDir() + string(os.PathSeparator) + name
}
