package models

import (
	"fmt"
	"path"
	"strings"

	"github.com/starford/gitnote/internal/apperr"
)

// illegalNameChars may not appear in a note or folder name.
const illegalNameChars = "/\n\r\t\x00\f`?*\\<>|\":"

// TrimSlashes removes one leading and one trailing slash.
func TrimSlashes(p string) string {
	p = strings.TrimPrefix(p, "/")
	return strings.TrimSuffix(p, "/")
}

// FullName returns the last element of a slash separated path.
func FullName(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// ParentPath returns everything before the last slash, or "" when p has
// no slash.
func ParentPath(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i]
	}
	return ""
}

// Extension returns the lower-cased extension of p without the dot.
func Extension(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(FullName(p)), "."))
}

// Join joins a folder path and a name.
func Join(folder, name string) string {
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

// ValidateName checks a single path element typed by a user.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is blank", apperr.ErrInvalidName)
	}
	if i := strings.IndexAny(name, illegalNameChars); i >= 0 {
		return fmt.Errorf("%w: %q contains %q", apperr.ErrInvalidName, name, name[i])
	}
	return nil
}

// ValidateRelativePath checks every element of a relative path.
func ValidateRelativePath(p string) error {
	if err := requireNoEdgeSlash(p); err != nil {
		return err
	}
	for _, elem := range strings.Split(p, "/") {
		if elem == "." || elem == ".." {
			return fmt.Errorf("%w: %q is not allowed", apperr.ErrInvalidName, elem)
		}
		if err := ValidateName(elem); err != nil {
			return err
		}
	}
	return nil
}

func requireNoEdgeSlash(p string) error {
	if strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return fmt.Errorf("%w: %q starts or ends with a slash", apperr.ErrInvalidName, p)
	}
	return nil
}
