package urls

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadURLFile reads URLs from a file, one per line. Empty lines and lines
// starting with '#' are skipped; trailing commas are trimmed.
func ReadURLFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var result []string
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		line = strings.TrimRight(line, ", \t")
		if line == "" {
			continue
		}

		result = append(result, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file at line %d: %w", lineNum, err)
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("no URLs found in file")
	}

	return result, nil
}
