package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gac1u21/harcapture/internal/config"
)

// TimestampLayout is the record timestamp format, e.g. "2024-03-01 14:05:09"
const TimestampLayout = "2006-01-02 15:04:05"

// EmptyText is shown when no record has been stored yet
const EmptyText = "No records found"

// Record is one server result kept in the activity log
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Result    string    `json:"result"`
}

// String renders the record as "<timestamp>: <result>"
func (r Record) String() string {
	return r.Timestamp.Format(TimestampLayout) + ": " + r.Result
}

// Store is an append-only activity log. Appends are serialized by the implementation.
type Store interface {
	Append(ctx context.Context, r Record) error
	ReadAll(ctx context.Context) ([]Record, error)
	Close() error
}

// Open creates the store selected by the configuration
func Open(cfg config.HistoryConfig) (Store, error) {
	switch cfg.Backend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		return NewSQLiteStore(cfg.Path), nil
	case "badger", "":
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		return OpenBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported history backend '%s'", cfg.Backend)
	}
}

// Format joins records with newlines, oldest first
func Format(records []Record) string {
	if len(records) == 0 {
		return EmptyText
	}
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = r.String()
	}
	return strings.Join(lines, "\n")
}

// Parse splits newline-joined text back into records. Lines that do not start
// with a timestamp continue the result of the previous record.
func Parse(text string) []Record {
	var records []Record
	if text == "" {
		return records
	}
	for _, line := range strings.Split(text, "\n") {
		if r, ok := parseLine(line); ok {
			records = append(records, r)
			continue
		}
		if len(records) > 0 {
			records[len(records)-1].Result += "\n" + line
		}
	}
	return records
}

func parseLine(line string) (Record, bool) {
	if len(line) < len(TimestampLayout)+2 || line[len(TimestampLayout):len(TimestampLayout)+2] != ": " {
		return Record{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, line[:len(TimestampLayout)], time.Local)
	if err != nil {
		return Record{}, false
	}
	return Record{Timestamp: ts, Result: line[len(TimestampLayout)+2:]}, true
}
