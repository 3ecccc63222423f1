// Package registry maps authenticated users to live transport connections and
// to the rooms used for message fan-out. It is the only shared mutable state
// between gateway invocations; every backend write is idempotent so partial
// failures leave the registry stale-but-safe.
package registry

import (
	"context"
)

// ConnectionData is the reverse-lookup record for a live connection.
type ConnectionData struct {
	UserID string
	Token  string
}

// Registry is the connection and room-membership store. Implementations:
// RedisRegistry (cache-style, TTL driven) and MongoRegistry (durable,
// secondary-index driven), both behind the same contract.
type Registry interface {
	// RefreshUserConnection upserts the connection record and resets expiry.
	// Calling it twice for the same connection leaves exactly one record.
	RefreshUserConnection(ctx context.Context, userID, token, connID string) error

	// GetUserConnections lists the live connection ids for a user.
	GetUserConnections(ctx context.Context, userID string) ([]string, error)

	// GetConnectionData resolves connID back to its owner; (nil, nil) when
	// the connection is unknown.
	GetConnectionData(ctx context.Context, connID string) (*ConnectionData, error)

	// RemoveConnection deletes the connection record. Removing an absent
	// connection is not an error.
	RemoveConnection(ctx context.Context, connID, userID string) error

	// AddUserToRoom records (roomID, userID, connID) for fan-out.
	AddUserToRoom(ctx context.Context, roomID, userID, connID string) error

	// RemoveUserFromRoom drops the user from the room's fan-out set.
	RemoveUserFromRoom(ctx context.Context, roomID, userID string) error

	// GetRoomMembers lists the room's member user ids, deduplicated.
	GetRoomMembers(ctx context.Context, roomID string) ([]string, error)
}
