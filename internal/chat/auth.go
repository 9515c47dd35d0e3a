package chat

import (
	"context"
	"fmt"
)

// AuthGate admits a credential only when the token is valid and the user
// it names still exists.
type AuthGate struct {
	validator TokenValidator
	gateway   Gateway
}

func NewAuthGate(validator TokenValidator, gateway Gateway) *AuthGate {
	return &AuthGate{validator: validator, gateway: gateway}
}

// Authenticate returns the Identity behind credential or an error wrapping
// ErrAuth. Calling it again with the same valid credential yields the same
// Identity.
func (g *AuthGate) Authenticate(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: missing credential", ErrAuth)
	}

	userID, username, err := g.validator.ValidateToken(credential)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if username == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrAuth)
	}

	exists, err := g.gateway.ExistsUser(ctx, username)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if !exists {
		return Identity{}, fmt.Errorf("%w: unknown user %s", ErrAuth, username)
	}

	return Identity{UserID: userID, Username: username}, nil
}
