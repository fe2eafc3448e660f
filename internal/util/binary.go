// Package util provides shared utility functions.
package util

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ResolveBinary resolves the configured uploader binary to an executable
// path. A value containing a path separator is taken literally and verified;
// a bare name is tried as ./name first (useful for development builds) and
// then searched on PATH.
func ResolveBinary(pathOrName string) (string, error) {
	if pathOrName == "" {
		return "", fmt.Errorf("binary name is empty")
	}

	if strings.ContainsRune(pathOrName, os.PathSeparator) {
		if !isExecutable(pathOrName) {
			return "", fmt.Errorf("binary %s is not an executable file", pathOrName)
		}
		return pathOrName, nil
	}

	localPath := "./" + pathOrName
	if isExecutable(localPath) {
		return localPath, nil
	}

	// LookPath already verifies executability.
	if path, err := exec.LookPath(pathOrName); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", pathOrName)
}

// isExecutable checks if a file exists and is executable by the current user.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
