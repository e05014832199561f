package utils

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var (
	dotEnvOnce sync.Once
	dotEnvPath string
	dotEnvErr  error
)

// LoadDotEnv loads the first .env file found from the working directory up
// to the filesystem root. Variables already set are kept. Later calls are
// no-ops and return the first result.
func LoadDotEnv() (string, error) {
	dotEnvOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			dotEnvErr = err
			return
		}
		path, err := findDotEnv(wd)
		if err != nil || path == "" {
			dotEnvErr = err
			return
		}
		if err := godotenv.Load(path); err != nil {
			dotEnvErr = err
			return
		}
		dotEnvPath = path
	})
	return dotEnvPath, dotEnvErr
}

func findDotEnv(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
