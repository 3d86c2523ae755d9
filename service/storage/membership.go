package storage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// MembershipStore answers chatroom membership questions against the
// relational store. It is the gateway's authorization collaborator; the
// membership tables themselves are written by the CRUD services, never here.
// Implements chat.Membership.
type MembershipStore struct {
	pool *pgxpool.Pool
}

func NewMembershipStore(ctx context.Context, dsn string) (*MembershipStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "pg connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pg ping")
	}
	return &MembershipStore{pool: pool}, nil
}

// IsMember reports whether the user belongs to the chatroom.
func (m *MembershipStore) IsMember(ctx context.Context, userID, chatroomID string) (bool, error) {
	const q = `SELECT EXISTS(
		SELECT 1 FROM chatroom_members WHERE user_id = $1 AND chatroom_id = $2
	)`
	var exists bool
	if err := m.pool.QueryRow(ctx, q, userID, chatroomID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "membership query")
	}
	return exists, nil
}

func (m *MembershipStore) Close() {
	m.pool.Close()
}
