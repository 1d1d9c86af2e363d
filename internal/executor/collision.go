package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/v-t-p/copyd/internal/copyjob"
)

// resolveCollision applies the job's collision policy to destPath,
// returning the path actually used and whether the entry should be
// skipped entirely (spec §4.7).
func resolveCollision(policy copyjob.CollisionPolicy, destPath string) (resolved string, skip bool, err error) {
	_, statErr := os.Lstat(destPath)
	exists := statErr == nil
	if !exists {
		return destPath, false, nil
	}

	switch policy {
	case copyjob.CollisionOverwrite:
		return destPath, false, nil
	case copyjob.CollisionSkip:
		return destPath, true, nil
	case copyjob.CollisionSerial:
		dir, base := filepath.Split(destPath)
		ext := filepath.Ext(base)
		stem := base[:len(base)-len(ext)]
		for i := 1; ; i++ {
			candidate := filepath.Join(dir, fmt.Sprintf("%s.%d%s", stem, i, ext))
			if _, err := os.Lstat(candidate); os.IsNotExist(err) {
				return candidate, false, nil
			}
		}
	default:
		return destPath, false, fmt.Errorf("unknown collision policy %d", policy)
	}
}
