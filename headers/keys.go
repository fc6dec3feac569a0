package headers

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Keys file variable names, in write order.
const (
	keyAuthorization = "AUTHORIZATION"
	keyMemberID      = "X_MEMBER_ID"
	keyOrgID         = "X_ORGANISATION_ID"
)

// FormatKeys renders h as the Python assignments the scraper imports.
func FormatKeys(h Headers) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s = %s\n", keyAuthorization, strconv.Quote(h.Authorization))
	fmt.Fprintf(&b, "%s = %s\n", keyMemberID, strconv.Quote(h.MemberID))
	fmt.Fprintf(&b, "%s = %s\n", keyOrgID, strconv.Quote(h.OrganisationID))
	return b.String()
}

// WriteKeys writes h to path through a temporary file and a rename, so the
// scraper never reads a half-written file.
func WriteKeys(path string, h Headers) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("headers: keys dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".keys-*.py")
	if err != nil {
		return fmt.Errorf("headers: keys temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(FormatKeys(h)); err != nil {
		tmp.Close()
		return fmt.Errorf("headers: write keys: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("headers: chmod keys: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("headers: close keys: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("headers: rename keys: %w", err)
	}
	return nil
}

// ReadKeys parses a keys file written by WriteKeys. Unknown lines are ignored.
func ReadKeys(path string) (Headers, error) {
	f, err := os.Open(path)
	if err != nil {
		return Headers{}, fmt.Errorf("headers: read keys: %w", err)
	}
	defer f.Close()

	var h Headers
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name, raw, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		v, err := strconv.Unquote(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		switch strings.TrimSpace(name) {
		case keyAuthorization:
			h.Authorization = v
		case keyMemberID:
			h.MemberID = v
		case keyOrgID:
			h.OrganisationID = v
		}
	}
	if err := sc.Err(); err != nil {
		return Headers{}, fmt.Errorf("headers: read keys: %w", err)
	}
	return h, nil
}
