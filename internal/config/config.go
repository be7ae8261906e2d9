// Package config loads the boot-time sizing parameters for the VM
// core: how many physical frames the user pool has, how big the swap
// disk is, and how far the stack is allowed to auto-grow. The knobs
// live in a small YAML file rather than compiled-in constants, so a
// test rig and a demo boot can size the machine differently.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PageSize is fixed at the x86 base page size. It is not configurable:
// every offset/alignment computation in the VM core assumes it.
const PageSize = 4096

// SectorSize is the disk sector size assumed by the swap allocator.
const SectorSize = 512

// SectorsPerPage is the number of contiguous swap sectors one page
// occupies.
const SectorsPerPage = PageSize / SectorSize

// KernBase is the lowest kernel virtual address: the top of the
// canonical lower half on x86-64. A user-mode access at or above it is
// always invalid, before any SPT lookup happens.
const KernBase uintptr = 1 << 47

// defaultStackLimit caps stack auto-growth at the conventional 8 MiB
// below the top of the stack region.
const defaultStackLimit = 8 << 20

// Config_t holds the sizing knobs read from the boot config file.
type Config_t struct {
	// FrameCount is the number of physical frames in the user pool.
	FrameCount int `yaml:"frame_count"`
	// SwapSectors is the size of the swap disk, in SectorSize units.
	SwapSectors int `yaml:"swap_sectors"`
	// StackLimit bounds how far a single stack may auto-grow, in
	// bytes. Zero means "use the default".
	StackLimit int `yaml:"stack_limit"`
}

// Default returns the configuration used when no file is supplied:
// a modest pool sized for tests and demos, not production.
func Default() Config_t {
	return Config_t{
		FrameCount:  256,
		SwapSectors: 256 * SectorsPerPage,
		StackLimit:  defaultStackLimit,
	}
}

// Load reads and validates a YAML config file, filling in defaults for
// any field the file omits and for a stack_limit of zero or less. An
// explicit frame_count of zero or less, or a swap_sectors smaller than
// one page, is rejected.
func Load(path string) (Config_t, error) {
	cfg := Default()
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config_t{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config_t{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.FrameCount <= 0 {
		return Config_t{}, fmt.Errorf("config: frame_count must be positive")
	}
	if cfg.SwapSectors < SectorsPerPage {
		return Config_t{}, fmt.Errorf("config: swap_sectors must hold at least one page")
	}
	if cfg.StackLimit <= 0 {
		cfg.StackLimit = defaultStackLimit
	}
	return cfg, nil
}
