package duplicate

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// PreHashSize is the length of the leading block hashed into the "preid"
// that 115 asks for next to the full digest.
const PreHashSize = 128 * 1024

// CalculateFileSHA1 computes the upper-case hex SHA-1 of a file
func CalculateFileSHA1(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return CalculateStreamSHA1(file)
}

// CalculateStreamSHA1 computes the upper-case hex SHA-1 from a reader
func CalculateStreamSHA1(r io.Reader) (string, error) {
	hash := sha1.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}

	return fmt.Sprintf("%X", hash.Sum(nil)), nil
}

// CalculateBlockSHA1 hashes at most the first n bytes of a file
func CalculateBlockSHA1(filePath string, n int64) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return CalculateStreamSHA1(io.LimitReader(file, n))
}

// FileInfo contains the file facts an instant upload needs
type FileInfo struct {
	Path     string
	SHA1     string
	PreSHA1  string
	Size     int64
	Filename string
}

// GetFileInfo stats a file and hashes it in full and its leading block
func GetFileInfo(filePath string) (*FileInfo, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	sum, err := CalculateFileSHA1(filePath)
	if err != nil {
		return nil, fmt.Errorf("calculate SHA1: %w", err)
	}

	pre := sum
	if stat.Size() > PreHashSize {
		pre, err = CalculateBlockSHA1(filePath, PreHashSize)
		if err != nil {
			return nil, fmt.Errorf("calculate block SHA1: %w", err)
		}
	}

	return &FileInfo{
		Path:     filePath,
		SHA1:     sum,
		PreSHA1:  pre,
		Size:     stat.Size(),
		Filename: filepath.Base(filePath),
	}, nil
}
