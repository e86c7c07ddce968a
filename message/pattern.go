package message

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/radionest/clarinet/record"
)

// placeholderRegexp matches a single {path} placeholder in a pattern string.
var placeholderRegexp = regexp.MustCompile(`\{([^}]+)\}`)

// Resolve substitutes every {path} placeholder in pattern with the string
// form of the record field at that path. Resolution is total: a missing or
// unresolvable field substitutes the empty string rather than raising.
func Resolve(pattern string, r record.Snapshot) string {
	return placeholderRegexp.ReplaceAllStringFunc(pattern, func(token string) string {
		path := strings.Split(token[1:len(token)-1], ".")
		value, ok := r.Field(path)
		if !ok {
			return ""
		}
		return stringify(value)
	})
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// Match reports whether filename is exactly the pattern resolved against r.
func Match(filename, pattern string, r record.Snapshot) bool {
	return filename == Resolve(pattern, r)
}

// Find resolves pattern against r, then checks whether a file by that name
// exists directly under dir. It returns the resolved filename and whether it
// was found; a non-existent directory or file yields ("", false).
func Find(dir, pattern string, r record.Snapshot) (string, bool) {
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return "", false
	}
	resolved := Resolve(pattern, r)
	full := filepath.Join(dir, resolved)
	fi, err := os.Stat(full)
	if err != nil || fi.IsDir() {
		return "", false
	}
	return resolved, true
}
