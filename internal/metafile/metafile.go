// Package metafile recognizes filesystem entries injected by operating systems
// and archivers (Finder droppings, resource forks, thumbnail caches) that must
// never be ingested or packaged.
package metafile

import (
	"path/filepath"
	"strings"
)

// TempPrefix marks temporary files written into watched folders by intake
// itself while copying across filesystems.
const TempPrefix = ".intake-"

var reservedNames = map[string]bool{
	".DS_Store":   true,
	"Thumbs.db":   true,
	"desktop.ini": true,
	".localized":  true,
}

var reservedPrefixes = []string{
	"._", // AppleDouble resource forks
	TempPrefix,
}

var reservedDirs = map[string]bool{
	"__MACOSX":        true,
	".Spotlight-V100": true,
	".Trashes":        true,
	".fseventsd":      true,
	".TemporaryItems": true,
}

// IsFile reports whether a file base name is platform metadata.
func IsFile(name string) bool {
	if reservedNames[name] {
		return true
	}
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// IsDir reports whether a directory base name roots a metadata subtree.
func IsDir(name string) bool {
	return reservedDirs[name]
}

// Skip reports whether a slash- or OS-separated relative path should be
// excluded: any component is a reserved directory, or the last component is a
// reserved file name.
func Skip(rel string) bool {
	rel = filepath.ToSlash(rel)
	parts := strings.Split(strings.Trim(rel, "/"), "/")
	for i, part := range parts {
		if part == "" || part == "." {
			continue
		}
		if i < len(parts)-1 && IsDir(part) {
			return true
		}
	}
	last := parts[len(parts)-1]
	return IsDir(last) || IsFile(last)
}
