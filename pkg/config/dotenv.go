package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file.
// If path is empty, it loads from ".env" in the current directory. Variables
// already set in the environment win over the file.
// A missing default file is not an error; a missing explicit path is.
func LoadDotEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); os.IsNotExist(err) {
			return nil
		}
		path = ".env"
	}

	return godotenv.Load(path)
}
