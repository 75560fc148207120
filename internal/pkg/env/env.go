package env

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

func GetEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// SetupEnvFile loads the first .env file found into the process environment.
// Variables already exported win. Returns the file used, or "" when none exists.
func SetupEnvFile() (string, error) {
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/paywall to project root
		"../../../.env", // Fallback for deeper nesting
	}

	for _, envFile := range envFiles {
		err := godotenv.Load(envFile)
		if err == nil {
			return envFile, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}

	// Containers pass real environment variables instead of a file.
	return "", nil
}
