package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func UserHomeDirPath() string {
	p, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("error while creating getting user home dir: %w", err))
	}

	tftpBaseDir := filepath.Join(p, "tftp")

	if _, err := os.Stat(tftpBaseDir); err != nil {
		if os.IsNotExist(err) {
			if err := os.Mkdir(tftpBaseDir, 0o750); err != nil {
				panic(fmt.Errorf("error while creating tftp base dir: %w", err))
			}
		} else {
			panic(fmt.Errorf("error cheking if file exists: %w", err))
		}
	}

	return tftpBaseDir
}

// ResolvePath joins a peer supplied file name onto baseDir and refuses names
// that would end up outside of it. A leading slash is treated as relative to baseDir.
func ResolvePath(baseDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimLeft(name, "/\\")))

	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}

	return filepath.Join(baseDir, cleaned), nil
}
