//go:build windows

package platenv

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

type windowsEnvironment struct{}

func newPlatformEnvironment() Environment {
	return windowsEnvironment{}
}

func (windowsEnvironment) OpenURL(url string) error {
	return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
}

func (windowsEnvironment) Which(binary string) (string, error) {
	return exec.LookPath(binary)
}

func (windowsEnvironment) CacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("platenv: resolving cache dir: %w", err)
	}
	dir := filepath.Join(base, "seosum")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("platenv: creating cache dir: %w", err)
	}
	return dir, nil
}
