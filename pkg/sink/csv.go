package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// CSV writes one file per account into a directory.
type CSV struct {
	dir    string
	filter FilterFunc
	logger *log.Logger
}

// NewCSV creates a CSV sink. filter may be nil to export everything.
func NewCSV(dir string, filter FilterFunc, logger *log.Logger) *CSV {
	return &CSV{dir: dir, filter: filter, logger: logger}
}

// Write renders every account to <dir>/<institution>-<account>.csv.
func (c *CSV) Write(_ context.Context, u Update) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	for _, account := range u.Accounts {
		path := filepath.Join(c.dir, tabName(account)+".csv")
		if err := c.writeFile(path, rows(account, c.filter)); err != nil {
			return err
		}
		c.logger.Info("wrote csv", "path", path, "transactions", len(account.Transactions))
	}
	return nil
}

func (c *CSV) writeFile(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
