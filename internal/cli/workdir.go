package cli

import (
	"path/filepath"
	"strings"
)

// DirPolicy restricts where agent processes may run. The zero value allows
// any directory.
type DirPolicy struct {
	allowedDirs []string
}

func NewDirPolicy(allowedDirs []string) DirPolicy {
	var cleaned []string
	for _, dir := range allowedDirs {
		if dir == "" {
			continue
		}
		cleaned = append(cleaned, filepath.Clean(dir))
	}
	return DirPolicy{allowedDirs: cleaned}
}

// Allows reports whether an agent may run in dir. An empty dir inherits the
// caller's working directory and is always allowed.
func (p DirPolicy) Allows(dir string) bool {
	if len(p.allowedDirs) == 0 || dir == "" {
		return true
	}
	clean := filepath.Clean(dir)
	for _, allowed := range p.allowedDirs {
		if clean == allowed {
			return true
		}
		prefix := allowed
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if strings.HasPrefix(clean, prefix) {
			return true
		}
	}
	return false
}
