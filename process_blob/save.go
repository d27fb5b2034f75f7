package process_blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"monomem/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// DefaultMaxRegionSize skips heap reservations nobody wants on disk.
const DefaultMaxRegionSize = 100 * 1024 * 1024

type SaveOptions struct {
	Name          string           // process name recorded in metadata
	Modules       []process.Module // module spans to record for offline FindModule
	MaxRegionSize uint             // 0 means DefaultMaxRegionSize
}

// SaveStats counts what happened to each region.
type SaveStats struct {
	Saved              int
	SkippedNonReadable int
	SkippedTooLarge    int
	ReadErrors         int
}

// Save writes every readable region of p to dirname in the layout Load expects.
// Unreadable regions are skipped, not fatal; the target keeps running while we copy.
func Save(p process.Process, dirname string, opts SaveOptions) (SaveStats, error) {
	var stats SaveStats
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("save-%d", p.GetPID())))

	maxRegion := opts.MaxRegionSize
	if maxRegion == 0 {
		maxRegion = DefaultMaxRegionSize
	}

	if err := os.MkdirAll(dirname, 0755); err != nil {
		return stats, fmt.Errorf("failed to create directory: %w", err)
	}

	log.Infoln("Saving process to directory:", dirname)

	meta := metadata{PID: p.GetPID(), Name: opts.Name, Modules: opts.Modules}
	if err := writeJSON(filepath.Join(dirname, metadataFile), meta); err != nil {
		return stats, err
	}

	if err := p.UpdateMemoryMap(); err != nil {
		return stats, fmt.Errorf("failed to update memory map: %w", err)
	}

	mm, err := p.GetMemoryMap()
	if err != nil {
		return stats, err
	}

	if err := writeJSON(filepath.Join(dirname, memoryMapFile), mm); err != nil {
		return stats, err
	}

	for _, region := range mm {
		if !region.IsReadable() {
			stats.SkippedNonReadable++
			continue
		}

		if region.Size > maxRegion {
			log.Debugln("Skipping large region at", fmt.Sprintf("%x", region.Address), "(size:", region.Size/1024/1024, "MB)")
			stats.SkippedTooLarge++
			continue
		}

		data, err := p.ReadMemory(process.ProcessMemoryAddress(region.Address), process.ProcessMemorySize(region.Size))
		if err != nil {
			log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", region.Address), ":", err)
			stats.ReadErrors++
			continue
		}

		if err := os.WriteFile(blobFilename(dirname, region), data, 0644); err != nil {
			return stats, fmt.Errorf("failed to write memory file for region at %x: %w", region.Address, err)
		}
		stats.Saved++
	}

	log.Infoln("Process dump saved:", stats.Saved, "regions saved,", stats.ReadErrors, "read errors")
	return stats, nil
}

func writeJSON(filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(filename), err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(filename), err)
	}
	return nil
}
