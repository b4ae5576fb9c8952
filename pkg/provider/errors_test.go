package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "invalid configuration",
			err:  InvalidConfiguration("missing field %q", "address"),
			want: `invalid configuration: missing field "address"`,
		},
		{
			name: "secret not found",
			err:  SecretNotFound("db/password"),
			want: "secret not found: db/password",
		},
		{
			name: "client error",
			err:  NewClientError(errors.New("connection refused")),
			want: "provider internal error: connection refused",
		},
		{
			name: "client error without cause",
			err:  ClientError{},
			want: "provider internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: KindNone},
		{name: "invalid configuration", err: InvalidConfiguration("bad"), want: KindInvalidConfiguration},
		{name: "wrapped invalid configuration", err: fmt.Errorf("vault %q: %w", "prod", InvalidConfiguration("bad")), want: KindInvalidConfiguration},
		{name: "secret not found", err: SecretNotFound("x"), want: KindSecretNotFound},
		{name: "wrapped not found", err: fmt.Errorf("fetch: %w", SecretNotFound("x")), want: KindSecretNotFound},
		{name: "client error", err: NewClientError(errors.New("boom")), want: KindClient},
		{name: "bare error", err: errors.New("boom"), want: KindClient},
		{name: "context deadline", err: context.DeadlineExceeded, want: KindClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestNewClientError(t *testing.T) {
	t.Parallel()

	t.Run("nil passthrough", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, NewClientError(nil))
	})

	t.Run("taxonomy errors pass through", func(t *testing.T) {
		t.Parallel()

		notFound := SecretNotFound("x")
		assert.Equal(t, notFound, NewClientError(notFound))

		invalid := InvalidConfiguration("bad")
		assert.Equal(t, invalid, NewClientError(invalid))

		client := NewClientError(errors.New("boom"))
		assert.Equal(t, client, NewClientError(client))
	})

	t.Run("unwrap exposes cause", func(t *testing.T) {
		t.Parallel()

		err := NewClientError(context.DeadlineExceeded)
		assert.True(t, IsClientError(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, IsTimeout(err))
	})

	t.Run("formatted", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("status 503")
		err := ClientErrorf("read secret: %w", cause)
		assert.True(t, IsClientError(err))
		assert.ErrorIs(t, err, cause)
	})
}

func TestPredicatesAreExclusive(t *testing.T) {
	t.Parallel()

	errs := []error{
		InvalidConfiguration("bad"),
		SecretNotFound("x"),
		NewClientError(errors.New("boom")),
	}

	for _, err := range errs {
		count := 0
		for _, is := range []func(error) bool{IsInvalidConfiguration, IsSecretNotFound, IsClientError} {
			if is(err) {
				count++
			}
		}
		assert.Equal(t, 1, count, "error %v matched %d kinds", err, count)
	}
}
