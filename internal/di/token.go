package di

import (
	"context"
	"fmt"
	"reflect"

	"deckforge-backend/internal/errors"
)

// Token identifies a registered service. Tokens are compared by name, so
// two tokens created with the same name address the same registration. The
// optional type tag is informational and only surfaces in error messages.
type Token struct {
	name     string
	typeName string
}

// NewToken creates a service token.
func NewToken(name string) Token {
	return Token{name: name}
}

// TokenFor creates a service token tagged with the expected instance type.
func TokenFor[T any](name string) Token {
	return Token{name: name, typeName: reflect.TypeFor[T]().String()}
}

// Name returns the token's registration name.
func (t Token) Name() string {
	return t.name
}

// TypeName returns the expected instance type, or "" for untagged tokens.
func (t Token) TypeName() string {
	return t.typeName
}

func (t Token) String() string {
	if t.typeName == "" {
		return t.name
	}
	return t.name + " (" + t.typeName + ")"
}

// IsZero reports whether the token is unnamed.
func (t Token) IsZero() bool {
	return t.name == ""
}

// Resolve retrieves a service and asserts it to T. It fails with a type
// mismatch error when the registered instance is not a T.
func Resolve[T any](ctx context.Context, c *Container, token Token) (T, error) {
	var zero T

	instance, err := c.Resolve(ctx, token)
	if err != nil {
		return zero, err
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, errors.NewError(errors.ErrorTypeRegistration, errors.CodeServiceTypeMismatch,
			fmt.Sprintf("service %q resolved to incompatible type %T, want %s",
				token.Name(), instance, reflect.TypeFor[T]().String())).Build()
	}
	return typed, nil
}
