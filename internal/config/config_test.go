package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func newConfigPathForSaveTest(t *testing.T, elems ...string) string {
	t.Helper()
	localAppData := t.TempDir()
	t.Setenv("LOCALAPPDATA", localAppData)
	t.Setenv("APPDATA", "")

	defaultPath := DefaultPath(false)
	return filepath.Join(filepath.Dir(defaultPath), filepath.Join(elems...))
}

func TestPathWithinDir(t *testing.T) {
	baseDir := t.TempDir()
	configDir := filepath.Join(baseDir, "config")

	tests := []struct {
		name string
		path string
		dir  string
		want bool
	}{
		{name: "same path", path: configDir, dir: configDir, want: true},
		{name: "subdirectory path", path: filepath.Join(configDir, "sub", "config.json"), dir: configDir, want: true},
		{name: "traversal path", path: filepath.Join(configDir, "..", "outside.json"), dir: configDir, want: false},
		{name: "different path", path: filepath.Join(baseDir, "other", "config.json"), dir: configDir, want: false},
	}
	if runtime.GOOS == "windows" {
		tests = append(tests, struct {
			name string
			path string
			dir  string
			want bool
		}{name: "different drive", path: `D:\outside\config.json`, dir: `C:\inside`, want: false})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, pathWithinDir(tt.path, tt.dir))
		})
	}
}

func TestIsZeroConfig(t *testing.T) {
	require.True(t, isZeroConfig(Config{}))
	require.False(t, isZeroConfig(DefaultConfig()))

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bind host set", func(cfg *Config) { cfg.BindHost = "0.0.0.0" }},
		{"bind port set", func(cfg *Config) { cfg.BindPort = DefaultPort }},
		{"default shell set", func(cfg *Config) { cfg.DefaultShell = "/bin/bash" }},
		{"pin hash set", func(cfg *Config) { cfg.PINHash = "hash" }},
		{"debug set", func(cfg *Config) { cfg.Debug = true }},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}
			tt.mutate(&cfg)
			require.False(t, isZeroConfig(cfg))
		})
	}
}

func TestDefaultPathUsesLocalAppDataWhenAvailable(t *testing.T) {
	t.Setenv("LOCALAPPDATA", `C:\Users\tester\AppData\Local`)
	t.Setenv("APPDATA", "")

	path := DefaultPath(false)
	want := filepath.Join(`C:\Users\tester\AppData\Local`, "agenthub", "config.json")
	require.Equal(t, want, path)
}

func TestDefaultPathUsesDebugDirWhenDebug(t *testing.T) {
	t.Setenv("LOCALAPPDATA", `C:\Users\tester\AppData\Local`)
	t.Setenv("APPDATA", "")

	path := DefaultPath(true)
	want := filepath.Join(`C:\Users\tester\AppData\Local`, "agenthub-debug", "config.json")
	require.Equal(t, want, path)
}

func TestDefaultPathFallsBackToAppData(t *testing.T) {
	t.Setenv("LOCALAPPDATA", "")
	t.Setenv("APPDATA", `C:\Users\tester\AppData\Roaming`)

	path := DefaultPath(false)
	want := filepath.Join(`C:\Users\tester\AppData\Roaming`, "agenthub", "config.json")
	require.Equal(t, want, path)
}

func TestDefaultPathFallsBackToTempDirWhenHomeDirUnavailable(t *testing.T) {
	originalUserHomeDirFn := userHomeDirFn
	t.Cleanup(func() { userHomeDirFn = originalUserHomeDirFn })
	ConsumeDefaultPathWarnings()
	t.Cleanup(func() { ConsumeDefaultPathWarnings() })

	userHomeDirFn = func() (string, error) {
		return "", errors.New("simulated home dir resolution failure")
	}
	t.Setenv("LOCALAPPDATA", "")
	t.Setenv("APPDATA", "")

	path := DefaultPath(false)
	want := filepath.Join(os.TempDir(), "agenthub", "config.json")
	require.Equal(t, want, path)

	warnings := ConsumeDefaultPathWarnings()
	require.NotEmpty(t, warnings)
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := []byte("bind_host: 127.0.0.1\nsome_removed_field: true\n")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.BindHost)
}

func TestLoadFillsMissingShellAndHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := []byte("debug: true\n")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.BindHost)
	require.NotEmpty(t, cfg.DefaultShell)
	require.True(t, cfg.Debug)
}

func TestLoadNormalizesOutOfRangeBindPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := []byte("bind_port: 99999\n")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultPort, cfg.BindPort)
}

func TestReadLimitedFileRejectsTooLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large-config.json")
	oversized := make([]byte, maxConfigFileBytes+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	require.NoError(t, os.WriteFile(path, oversized, 0o600))

	_, err := readLimitedFile(path, maxConfigFileBytes)
	require.Error(t, err)
}

func TestReadLimitedFileAllowsFileAtExactMaxBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exact-config.json")
	exact := make([]byte, maxConfigFileBytes)
	for i := range exact {
		exact[i] = 'a'
	}
	require.NoError(t, os.WriteFile(path, exact, 0o600))

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	require.NoError(t, err)
	require.Len(t, raw, int(maxConfigFileBytes))
}

func TestSave(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		path := newConfigPathForSaveTest(t, "sub", "config.json")
		cfg := DefaultConfig()
		_, err := Save(path, cfg)
		require.NoError(t, err)

		info, statErr := os.Stat(path)
		require.NoError(t, statErr)
		require.False(t, info.IsDir())
	})

	t.Run("round trip", func(t *testing.T) {
		path := newConfigPathForSaveTest(t, "config.json")
		cfg := DefaultConfig()
		cfg.BindPort = 9100
		cfg.Debug = true
		cfg.PINHash = "$2a$10$examplehash"

		_, err := Save(path, cfg)
		require.NoError(t, err)

		loaded, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, cfg.BindPort, loaded.BindPort)
		require.Equal(t, cfg.Debug, loaded.Debug)
		require.Equal(t, cfg.PINHash, loaded.PINHash)
	})

	t.Run("returns normalized config for empty input", func(t *testing.T) {
		path := newConfigPathForSaveTest(t, "config.json")
		normalized, err := Save(path, Config{})
		require.NoError(t, err)
		require.Equal(t, DefaultConfig(), normalized)
	})

	t.Run("rejects empty path", func(t *testing.T) {
		_, err := Save("", DefaultConfig())
		require.Error(t, err)
	})

	t.Run("rejects whitespace-only path", func(t *testing.T) {
		_, err := Save("   ", DefaultConfig())
		require.Error(t, err)
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		path := newConfigPathForSaveTest(t, "config.json")

		cfg1 := DefaultConfig()
		cfg1.BindPort = 9101
		_, err := Save(path, cfg1)
		require.NoError(t, err)

		cfg2 := DefaultConfig()
		cfg2.BindPort = 9102
		_, err = Save(path, cfg2)
		require.NoError(t, err)

		loaded, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, 9102, loaded.BindPort)
	})

	t.Run("rejects path outside default config directory", func(t *testing.T) {
		_ = newConfigPathForSaveTest(t, "config.json")
		outsidePath := filepath.Join(t.TempDir(), "outside-config.json")

		_, err := Save(outsidePath, DefaultConfig())
		require.Error(t, err)
	})

	t.Run("rename failure removes temp file", func(t *testing.T) {
		path := newConfigPathForSaveTest(t, "config.json")
		require.NoError(t, os.MkdirAll(path, 0o700))

		_, err := Save(path, DefaultConfig())
		require.Error(t, err)

		pattern := filepath.Join(filepath.Dir(path), ".config.json.tmp.*")
		tempFiles, globErr := filepath.Glob(pattern)
		require.NoError(t, globErr)
		require.Empty(t, tempFiles)
	})
}

func TestValidateConfigPathReturnsErrorWhenDefaultConfigDirResolutionFails(t *testing.T) {
	original := defaultConfigDirFn
	t.Cleanup(func() { defaultConfigDirFn = original })

	defaultConfigDirFn = func(string) (string, error) {
		return "", errors.New("simulated default dir error")
	}

	path := filepath.Join(t.TempDir(), "config.json")
	_, err := validateConfigPath(path)
	require.Error(t, err)
}

func TestConfigStructFieldCount(t *testing.T) {
	got := reflect.TypeFor[Config]().NumField()
	require.Equal(t, 6, got, "Config field count changed; update isZeroConfig tests for new fields")
}

func TestCloneIsIndependentValueCopy(t *testing.T) {
	src := DefaultConfig()
	src.BindPort = 9200
	cloned := Clone(src)
	cloned.BindPort = 9300
	require.Equal(t, 9200, src.BindPort)
}

func TestEnsureFileSeedsDefaults(t *testing.T) {
	path := newConfigPathForSaveTest(t, "config.json")
	cfg, err := EnsureFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
