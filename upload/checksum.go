package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// checksumOfFile returns the hex-encoded SHA-256 checksum of the file at path.
// The file is streamed, videos don't fit in memory.
func checksumOfFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
