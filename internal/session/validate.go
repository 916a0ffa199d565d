package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by ValidateName failures.
var ErrInvalidName = errors.New("invalid session name")

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name is usable as a directory under sessions/.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidName, name, nameRegexp)
	}
	return nil
}
