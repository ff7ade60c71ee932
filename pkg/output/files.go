package output

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/codex-crawler/pkg/models"
	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

// WriteURLList writes one address per line
func WriteURLList(path string, urls []string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating '%s': %w", utils.ErrFilesystem, path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, path, cerr)
		}
	}()

	w := bufio.NewWriter(file)
	for _, u := range urls {
		if _, err := w.WriteString(u + "\n"); err != nil {
			return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flushing '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}

// ReadURLList reads a file written by WriteURLList, skipping blank lines and
// lines starting with '#'.
func ReadURLList(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening '%s': %w", utils.ErrFilesystem, path, err)
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading '%s': %w", utils.ErrFilesystem, path, err)
	}
	return urls, nil
}

// WriteMetadata writes crawl metadata as YAML
func WriteMetadata(path string, metadata models.CrawlMetadata) error {
	data, err := yaml.Marshal(&metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal crawl metadata to YAML for site '%s': %w", metadata.SiteKey, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: writing metadata '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}
