package chunker

import (
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ReadSource reads a source file as text. Valid UTF-8 is returned as is;
// anything else goes through a lossy decode that honours UTF-16 and UTF-8
// byte order marks and replaces invalid sequences with U+FFFD.
func ReadSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return DecodeSource(data)
}

// DecodeSource applies the decoding rules of ReadSource to data.
func DecodeSource(data []byte) (string, error) {
	if utf8.Valid(data) && !hasBOM(data) {
		return string(data), nil
	}

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	decoded, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return "", fmt.Errorf("failed to decode file: %w", err)
	}
	return string(decoded), nil
}

func hasBOM(data []byte) bool {
	return len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF
}
