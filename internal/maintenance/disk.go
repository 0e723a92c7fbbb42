package maintenance

import (
	"os"

	"github.com/shirou/gopsutil/v3/disk"
)

// contentFreeSpace returns the free bytes of the volume holding path.
func contentFreeSpace(path string) (uint64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
