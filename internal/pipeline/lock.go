package pipeline

import (
	"fmt"
	"os"
	"time"
)

// acquireLock takes an exclusive run lock next to the cache file so two
// runs cannot interleave their merges. The returned release func removes
// the lock file.
func acquireLock(path string) (release func(), err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if info, statErr := os.Stat(path); statErr == nil {
				age := time.Since(info.ModTime()).Round(time.Second)
				return nil, fmt.Errorf("another run holds %s (held for %s); remove the file if no run is active", path, age)
			}
		}
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	return func() { os.Remove(path) }, nil
}
