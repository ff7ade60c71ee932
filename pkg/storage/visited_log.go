package storage

import (
	"bufio"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

const flushEvery = 5000

// writeLines writes one address per line, flushing periodically, and syncs the file.
func writeLines(filePath string, lines []string, log *logrus.Entry) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create visited log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for i, line := range lines {
		if _, err := writer.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("%w: write visited log '%s': %w", utils.ErrFilesystem, filePath, err)
		}
		if (i+1)%flushEvery == 0 {
			if err := writer.Flush(); err != nil {
				return fmt.Errorf("%w: flush visited log '%s': %w", utils.ErrFilesystem, filePath, err)
			}
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("%w: flush visited log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("%w: sync visited log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	log.Infof("Wrote %d addresses to visited log: %s", len(lines), filePath)
	return nil
}
