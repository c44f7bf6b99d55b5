// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "/tmp/x", must.M1(ExpandHome("/tmp/x")))
	assert.Equal(t, "", must.M1(ExpandHome("")))
	home := must.M1(ExpandHome("~"))
	assert.True(t, filepath.IsAbs(home), "got %q", home)
	assert.Equal(t, filepath.Join(home, "a/b"), must.M1(ExpandHome("~/a/b")))
	_, err := ExpandHome("~no_such_user_for_sure/x")
	assert.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "f.yaml")
	assert.False(t, must.M1(FileExists(path)))
	written, err := WriteFile(path, []byte("a"), false)
	require.NoError(t, err)
	assert.Equal(t, path, written)
	assert.True(t, must.M1(FileExists(path)))

	_, err = WriteFile(path, []byte("b"), false)
	assert.Error(t, err)
	_, err = WriteFile(path, []byte("b"), true)
	require.NoError(t, err)
	assert.Equal(t, "b", string(must.M1(os.ReadFile(path))))
}
