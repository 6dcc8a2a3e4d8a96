package session

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// GenerateName allocates the next free session name of the form
// <dir>-<type>-<n>, where <dir> is the workdir basename with dots mangled
// and <n> is one past the highest number already taken by existing names
// with the same prefix.
func GenerateName(t Type, workdir string, existing []string) string {
	dir := path.Base(strings.TrimRight(workdir, "/"))
	if dir == "" || dir == "/" || dir == "." {
		dir = "root"
	}
	dir = strings.ReplaceAll(dir, ".", "_")
	prefix := fmt.Sprintf("%s-%s-", dir, t)

	maxN := 0
	for _, name := range existing {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if n, err := strconv.Atoi(name[len(prefix):]); err == nil && n > maxN {
			maxN = n
		}
	}
	return prefix + strconv.Itoa(maxN+1)
}

// InScope reports whether a session with the given workdir is visible under
// the folder scope. The root scope sees everything; a session with no
// recorded workdir is always visible, which keeps pre-tracking sessions on
// the dashboard regardless of the selected folder.
func InScope(workdir, scope string) bool {
	if scope == "" || scope == "/" {
		return true
	}
	if workdir == "" {
		return true
	}
	return strings.HasPrefix(workdir, scope)
}
