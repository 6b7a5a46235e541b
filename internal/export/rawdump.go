package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ibkrTax/internal/ports"
)

const defaultOutputDir = "./output"

// RunTag builds the filename tag shared by every artifact of one run, a
// timestamp plus a short run id.
func RunTag(now time.Time, runID string) string {
	tag := now.Format("20060102_150405")
	if len(runID) >= 8 {
		tag += "_" + runID[:8]
	} else if runID != "" {
		tag += "_" + runID
	}
	return tag
}

// RawDump writes the raw statement body of each fetched year to disk before
// any parsing happens, so a run can always be replayed against its inputs.
type RawDump struct {
	dir    string
	tag    string
	logger ports.Logger
}

// RawDumpConfig holds the configuration for creating a RawDump archiver.
type RawDumpConfig struct {
	Dir    string // Output directory (default: ./output)
	Tag    string // Run tag used in filenames (see RunTag)
	Logger ports.Logger
}

// NewRawDump creates a raw statement archiver and ensures the output
// directory exists.
func NewRawDump(cfg RawDumpConfig) (*RawDump, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for raw dump archiver")
	}
	dir := cfg.Dir
	if dir == "" {
		dir = defaultOutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	return &RawDump{dir: dir, tag: cfg.Tag, logger: cfg.Logger}, nil
}

// Archive stores the raw statement of one year under the output directory.
func (r *RawDump) Archive(ctx context.Context, year int, data []byte) error {
	name := fmt.Sprintf("raw_data_%s_%d.xml", r.tag, year)
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing raw statement for %d: %w", year, err)
	}
	r.logger.Debug(ctx, "Raw statement archived", map[string]interface{}{
		"year": year,
		"path": path,
		"size": len(data),
	})
	return nil
}
