package utils

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
)

var disallowedFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}_\-]`)

func LoadTextFromFile(filename string) ([]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// SaveToFile writes data into dir under a sanitized filename and returns the
// full path. An existing file is overwritten.
func SaveToFile(dir, filename, extension string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create dir: %w", err)
	}

	target := path.Join(dir, fmt.Sprintf("%s.%s", SanitizeFilename(filename), extension))
	if err := os.WriteFile(target, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write to file: %v", err)
	}

	return target, nil
}

func SaveTextToFile(dir, filename, extension, text string) (string, error) {
	return SaveToFile(dir, filename, extension, []byte(text))
}

func SanitizeFilename(filename string) string {
	filename = strings.Replace(filename, "\"", "", -1)
	filename = strings.Replace(filename, ".", "_", -1)
	filename = strings.ReplaceAll(filename, " ", "_")
	filename = disallowedFilenameChars.ReplaceAllString(filename, "")

	runes := []rune(filename)
	if len(runes) > 150 {
		filename = string(runes[:150])
	}
	if filename == "" {
		filename = "tale"
	}
	return filename
}
