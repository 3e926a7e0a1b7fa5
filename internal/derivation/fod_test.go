package derivation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixedOutputDrv = `Derive([("out","/nix/store/5x7l2pl9f1kq1yy8fkdjw3pirh1gdfpq-hello-2.12.1.tar.gz","sha256","8d99142afd92576f30b0cd7cb42a8dc6809998bc5d607d88761f512e26c7db20")],[],[],"x86_64-linux","builtin:fetchurl",[],[("name","hello-2.12.1.tar.gz"),("out","/nix/store/5x7l2pl9f1kq1yy8fkdjw3pirh1gdfpq-hello-2.12.1.tar.gz")])`

const inputAddressedDrv = `Derive([("out","/nix/store/63l345l7dgcfz789w1y93j1540czafqh-hello-2.12.1","","")],[("/nix/store/abc-bash-5.2.drv",["out"])],["/nix/store/def-default-builder.sh"],"x86_64-linux","/nix/store/ghi-bash/bin/bash",["-e","/nix/store/def-default-builder.sh"],[("name","hello-2.12.1")])`

const multiOutputDrv = `Derive([("dev","/nix/store/aaa-zlib-1.3-dev","",""),("out","/nix/store/bbb-zlib-1.3","","")],[],[],"x86_64-linux","/bin/sh",[],[])`

func TestIsFOD(t *testing.T) {
	tests := []struct {
		name string
		drv  string
		want bool
	}{
		{name: "fixed output", drv: fixedOutputDrv, want: true},
		{name: "input addressed", drv: inputAddressedDrv, want: false},
		{name: "multiple outputs", drv: multiOutputDrv, want: false},
		{
			name: "whitespace between tokens",
			drv:  "Derive( [ ( \"out\" , \"/nix/store/x-src\" , \"r:sha256\" , \"0abc\" ) ],[],[],\"\",\"\",[],[])",
			want: true,
		},
		{name: "not a derivation", drv: "{ pkgs ? import <nixpkgs> {} }: pkgs.hello", want: false},
		{name: "empty", drv: "", want: false},
		{name: "leading garbage", drv: " " + fixedOutputDrv, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFOD([]byte(tt.drv)))
		})
	}
}

func TestIsFODFile(t *testing.T) {
	dir := t.TempDir()
	fod := filepath.Join(dir, "src.drv")
	require.NoError(t, os.WriteFile(fod, []byte(fixedOutputDrv), 0o444))

	got, err := IsFODFile(fod)
	require.NoError(t, err)
	assert.True(t, got)

	_, err = IsFODFile(filepath.Join(dir, "missing.drv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.drv")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseOutputs(t *testing.T) {
	t.Run("fixed output", func(t *testing.T) {
		outs, err := ParseOutputs([]byte(fixedOutputDrv))
		require.NoError(t, err)
		require.Len(t, outs, 1)
		assert.Equal(t, "out", outs[0].Name)
		assert.Equal(t, "sha256", outs[0].HashAlgo)
		assert.True(t, outs[0].Fixed())
	})

	t.Run("multiple outputs stop at list end", func(t *testing.T) {
		outs, err := ParseOutputs([]byte(multiOutputDrv))
		require.NoError(t, err)
		require.Len(t, outs, 2)
		assert.Equal(t, "dev", outs[0].Name)
		assert.Equal(t, "/nix/store/bbb-zlib-1.3", outs[1].Path)
		assert.False(t, outs[1].Fixed())
	})

	t.Run("input derivations are not outputs", func(t *testing.T) {
		outs, err := ParseOutputs([]byte(inputAddressedDrv))
		require.NoError(t, err)
		assert.Len(t, outs, 1)
	})

	t.Run("whitespace accepted by IsFOD", func(t *testing.T) {
		drv := []byte("Derive( [ ( \"out\" , \"/nix/store/xyz-src.tar.gz\" , \"sha256\" , \"0a1b2c\" ) ],[],[],\"x86_64-linux\",\"builtin:fetchurl\",[],[])")
		require.True(t, IsFOD(drv))

		outs, err := ParseOutputs(drv)
		require.NoError(t, err)
		require.Len(t, outs, 1)
		assert.Equal(t, "0a1b2c", outs[0].Hash)
		assert.True(t, outs[0].Fixed())
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseOutputs([]byte("Derive(("))
		assert.ErrorIs(t, err, ErrMalformed)

		_, err = ParseOutputs([]byte(`Derive([("out","/nix/store/x"`))
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestFixedOutput(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("fixed", func(t *testing.T) {
		out, err := FixedOutput(write("fixed.drv", fixedOutputDrv))
		require.NoError(t, err)
		assert.Equal(t, "out", out.Name)
		assert.Equal(t, "sha256", out.HashAlgo)
		assert.Equal(t, "8d99142afd92576f30b0cd7cb42a8dc6809998bc5d607d88761f512e26c7db20", out.Hash)
	})

	t.Run("input addressed", func(t *testing.T) {
		_, err := FixedOutput(write("plain.drv", inputAddressedDrv))
		assert.ErrorIs(t, err, ErrNotFixed)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := FixedOutput(write("junk.drv", "not a derivation"))
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := FixedOutput(filepath.Join(dir, "absent.drv"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
