//go:generate go run go.uber.org/mock/mockgen -source=gateway.go -destination=../mocks/mock_gateway.go -package=mocks
package chat

import "context"

// Gateway is everything the core needs from persistence. Implementations
// apply their own timeout policy and may block on network I/O, so callers
// must never hold the presence or session lock while calling it.
type Gateway interface {
	Save(ctx context.Context, msg ChatMessage) (ChatMessage, error)
	ExistsUser(ctx context.Context, username string) (bool, error)
	FindUsersOnline(ctx context.Context) ([]string, error)
	SetOnlineFlag(ctx context.Context, username string, online bool) error
}

// HistoryReader serves the private conversation history endpoint.
type HistoryReader interface {
	History(ctx context.Context, user1, user2 string, limit int) ([]ChatMessage, error)
}

// Transport is the outbound side of the connection layer.
type Transport interface {
	SendTo(connectionID string, payload []byte) error
	Broadcast(topic string, payload []byte)
}

// TokenValidator turns a bearer token into a user id and username.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, string, error)
}
