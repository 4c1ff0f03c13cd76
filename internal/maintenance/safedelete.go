package maintenance

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// safeDelete removes the file at path, refusing to do so unless path resolves to somewhere inside root. This
// guards the retention sweep against ever unlinking a file outside the uploads tree even if a stored file_path was
// corrupted or maliciously crafted, since Delete is driven entirely by values read back out of the database rather
// than a user-supplied request.
func safeDelete(root, path string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve uploads root: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve file path: %w", err)
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to delete %q: outside uploads root %q", path, root)
	}

	if err := os.Remove(absPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}
