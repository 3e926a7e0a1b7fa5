package checker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCacheNotObject is returned when a derivation cache holds JSON null.
var ErrCacheNotObject = errors.New("cache is not a JSON object")

// LoadCache reads a derivation cache: a JSON object mapping derivation paths
// to the attribute that first required them. A missing file yields an empty
// cache.
func LoadCache(path string) (map[string]string, error) {
	drvs := make(map[string]string)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return drvs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading derivation cache file: %w", err)
	}

	if err := json.Unmarshal(data, &drvs); err != nil {
		return nil, fmt.Errorf("deserializing derivation cache: %w", err)
	}
	if drvs == nil {
		return nil, fmt.Errorf("deserializing derivation cache: %w", ErrCacheNotObject)
	}
	return drvs, nil
}

// SaveCache writes drvs to path using the temp-file, fsync, rename pattern so
// readers never observe a partial cache.
func SaveCache(path string, drvs map[string]string) error {
	data, err := json.Marshal(drvs)
	if err != nil {
		return fmt.Errorf("serializing derivation cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".drv-cache-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing derivation cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
