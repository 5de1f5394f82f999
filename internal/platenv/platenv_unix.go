//go:build !windows

package platenv

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

type unixEnvironment struct{}

func newPlatformEnvironment() Environment {
	return unixEnvironment{}
}

func (unixEnvironment) OpenURL(url string) error {
	opener := "xdg-open"
	if runtime.GOOS == "darwin" {
		opener = "open"
	}
	return exec.Command(opener, url).Start()
}

func (unixEnvironment) Which(binary string) (string, error) {
	return exec.LookPath(binary)
}

func (unixEnvironment) CacheDir() (string, error) {
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
