// Package query holds SPARQL query templates. The harvester treats template
// text as opaque and only substitutes the window and partition tokens.
package query

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Placeholder tokens recognised in templates.
const (
	TokenOffset    = "{OFFSET}"
	TokenLimit     = "{LIMIT}"
	TokenPartition = "{OCC_ID}"
)

var (
	// ErrMissingToken is returned when a paged template lacks {OFFSET} or {LIMIT}.
	ErrMissingToken = errors.New("template missing window token")

	// ErrInvalidPartitionID is returned for IDs that cannot be substituted safely.
	ErrInvalidPartitionID = errors.New("invalid partition id")
)

var partitionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_:\-]+$`)

// ValidatePartitionID reports whether id can be substituted into a template.
func ValidatePartitionID(id string) error {
	if !partitionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidPartitionID, id)
	}
	return nil
}

// Template is query text with placeholder tokens.
type Template string

// Load reads a template from a file.
func Load(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return Template(data), nil
}

// ForPartition substitutes the partition token. Templates without the token
// are returned unchanged.
func (t Template) ForPartition(id string) (Template, error) {
	if err := ValidatePartitionID(id); err != nil {
		return "", err
	}
	return Template(strings.ReplaceAll(string(t), TokenPartition, id)), nil
}

// Paged reports whether the template carries both window tokens.
func (t Template) Paged() bool {
	s := string(t)
	return strings.Contains(s, TokenOffset) && strings.Contains(s, TokenLimit)
}

// Validate checks that a paged template carries the window tokens and has no
// unresolved partition token.
func (t Template) Validate() error {
	if !t.Paged() {
		return ErrMissingToken
	}
	if strings.Contains(string(t), TokenPartition) {
		return fmt.Errorf("unresolved %s token", TokenPartition)
	}
	return nil
}

// Render substitutes offset and limit.
func (t Template) Render(offset, limit int) string {
	r := strings.NewReplacer(
		TokenOffset, strconv.Itoa(offset),
		TokenLimit, strconv.Itoa(limit),
	)
	return r.Replace(string(t))
}

// String returns the template text.
func (t Template) String() string {
	return string(t)
}
