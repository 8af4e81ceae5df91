// Package presence tracks which display names are connected and arbitrates uniqueness.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/omochice/room-chat/pkg/protocol"
)

var (
	ErrNameTaken   = errors.New("name already in use")
	ErrInvalidName = errors.New("invalid name")
)

// Registry is the set of currently connected display names.
// Claim must be atomic: two concurrent claims of one name never both succeed.
type Registry interface {
	Claim(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error
	Names(ctx context.Context) ([]string, error)
}

var validate = validator.New()

// reserved names are rejected regardless of case.
var reserved = []string{"null", "undefined", strings.ToLower(protocol.SystemAuthor)}

// ValidateName checks a requested display name before it is claimed.
func ValidateName(name string, maxLen int) error {
	if err := validate.Var(name, fmt.Sprintf("required,max=%d,excludesall=/", maxLen)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: surrounding whitespace", ErrInvalidName)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character", ErrInvalidName)
		}
	}
	for _, word := range reserved {
		if strings.EqualFold(name, word) {
			return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
		}
	}
	return nil
}
