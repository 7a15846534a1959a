package util

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// WriteJson stores obj as indented JSON. The parent directories are created and the file is replaced
// atomically, a reader never sees a partial file.
func WriteJson(ctx context.Context, file string, obj any) error {
	bs, err := json.MarshalIndent(obj, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return writeFileAtomic(ctx, file, bs)
}

// ReadJson decodes the JSON file into a new T
func ReadJson[T any](file string) (T, error) {
	var res T
	bs, err := os.ReadFile(file)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(bs, &res); err != nil {
		return res, fmt.Errorf("decode %s: %w", file, err)
	}
	return res, nil
}

// FileExists returns true if specified file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFileAtomic(ctx context.Context, file string, bs []byte) error {
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, configDirPerm); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("before write: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(file)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	// removing is a no-op after a successful rename
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(configFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("set temp file permissions: %w", err)
	}
	if _, err := tmp.Write(bs); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("after write: %w", err)
	}
	if err := os.Rename(tmpName, file); err != nil {
		return fmt.Errorf("move %s to %s: %w", tmpName, file, err)
	}
	return nil
}
