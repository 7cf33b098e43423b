package utils

import "path/filepath"

// GetPathInfo resolves a (possibly relative) source path to its absolute
// form and the directory containing it.
func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}
	parentDir = filepath.Dir(fullPath)
	return fullPath, parentDir, nil
}

// IsImagePath reports whether a path names a pre-assembled .fjm image
// rather than a .fj source.
func IsImagePath(path string) bool {
	return filepath.Ext(path) == ".fjm"
}
