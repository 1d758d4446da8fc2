package source

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// ReadArchiveList reads archive sources from a file, one per line:
//
//	URL [format]
//
// Empty lines and # comments are skipped and duplicate URLs are dropped.
// Source ids are derived from the host.
func ReadArchiveList(filePath string) ([]model.ArchiveSourceConfig, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var archives []model.ArchiveSourceConfig
	seenURL := make(map[string]bool)
	seenID := make(map[string]int)

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		rawURL := parts[0]
		if seenURL[rawURL] {
			continue
		}

		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return nil, fmt.Errorf("line %d: invalid archive URL %q", lineNo, rawURL)
		}

		format := ""
		if len(parts) > 1 {
			format = strings.ToLower(parts[1])
			if format != FormatJSON && format != FormatCSV && format != FormatHTML {
				return nil, fmt.Errorf("line %d: unknown format %q", lineNo, parts[1])
			}
		}

		id := "archive-" + strings.ReplaceAll(parsed.Hostname(), ".", "-")
		seenID[id]++
		if n := seenID[id]; n > 1 {
			id = fmt.Sprintf("%s-%d", id, n)
		}

		seenURL[rawURL] = true
		archives = append(archives, model.ArchiveSourceConfig{
			Enabled: true,
			ID:      id,
			URL:     rawURL,
			Format:  format,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return archives, nil
}
