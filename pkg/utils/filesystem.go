// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package utils provides filesystem and token-budget helpers shared across
// the fleet core.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureFleetDir ensures the .fleet directory exists at the given base path.
// If basePath is empty or ".", it creates ./.fleet in the current directory.
// Otherwise, it creates {basePath}/.fleet.
//
// Used by fleetd to place the settings document and the agent store; the
// vector index paths come from the retrieval settings.
func EnsureFleetDir(basePath string) (string, error) {
	var fleetDir string
	if basePath == "" || basePath == "." {
		fleetDir = ".fleet"
	} else {
		fleetDir = filepath.Join(basePath, ".fleet")
	}

	if err := os.MkdirAll(fleetDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create .fleet directory at '%s': %w", fleetDir, err)
	}

	return fleetDir, nil
}

// AtomicWriteFile persists content to path using the backup-rename pattern:
// if a file already exists at path, it is renamed to "<path>.backup" first;
// the new content is then written directly to path. On success the backup
// is removed. On any failure the backup (if taken) is restored so the
// on-disk document is never left in a half-written state.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	backupPath := path + ".backup"

	hadExisting := false
	if _, err := os.Stat(path); err == nil {
		hadExisting = true
		if err := os.Rename(path, backupPath); err != nil {
			return fmt.Errorf("failed to back up %q before write: %w", path, err)
		}
	}

	if err := os.WriteFile(path, data, perm); err != nil {
		if hadExisting {
			if rerr := os.Rename(backupPath, path); rerr != nil {
				return fmt.Errorf("write failed (%w) and backup restore failed (%v)", err, rerr)
			}
		}
		return fmt.Errorf("failed to write %q: %w", path, err)
	}

	if hadExisting {
		if err := os.Remove(backupPath); err != nil {
			return fmt.Errorf("wrote %q but failed to remove backup %q: %w", path, backupPath, err)
		}
	}

	return nil
}
