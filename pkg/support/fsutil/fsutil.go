// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for writing graph descriptions to the file system.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether the file or directory exists, or an error if the file system failed.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "checking whether %q exists", path)
}

// ExpandHome replaces a leading "~" or "~user" in path by the user's home directory.
// Other paths are returned unchanged.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	userName, rest, _ := strings.Cut(path[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "looking up home directory for path %q", path)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// WriteFile writes data to path, after expanding the home directory. The parent directory is
// created if needed. It fails if the file exists, unless overwrite is set.
//
// It returns the expanded path.
func WriteFile(path string, data []byte, overwrite bool) (string, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	if !overwrite {
		exists, err := FileExists(path)
		if err != nil {
			return "", err
		}
		if exists {
			return "", errors.Errorf("file %q already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, "creating directory for %q", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing %q", path)
	}
	return path, nil
}
