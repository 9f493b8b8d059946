package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveInput returns the real path of the image at imagePath. Relative
// paths are taken from root, and the resolved file must lie inside root
// once symlinks are followed.
func resolveInput(root, imagePath string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: no input directory is configured", ErrInvalidArguments)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve input directory: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("resolve input directory: %w", err)
	}

	p := imagePath
	if !filepath.IsAbs(p) {
		p = filepath.Join(realRoot, p)
	}
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", fmt.Errorf("%w: reading image: %v", ErrInvalidArguments, err)
	}

	rel, err := filepath.Rel(realRoot, real)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: image_path must name a file inside the input directory", ErrInvalidArguments)
	}
	return real, nil
}
