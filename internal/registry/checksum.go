package registry

import (
	"encoding/hex"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Checksum computes a blake2b-256 digest of the file at absPath, used to
// populate ModelWeight.checksum so operators can detect a weight file
// changing underneath an enabled entry. Directories are not checksummed.
func Checksum(absPath string) (string, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", nil
	}
	f, err := os.Open(absPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
