package auth

import (
	"context"
	"time"
)

// UserStatus is the account state checked by validation layer 9.
type UserStatus struct {
	Active    bool
	Locked    bool
	ExpiresAt time.Time // zero means no account expiry
}

// Expired reports whether the account has an expiry in the past.
func (s UserStatus) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// UserDirectory answers account status questions for validated subjects.
// The identity provider behind it is an external collaborator; only this
// interface is contracted.
type UserDirectory interface {
	Status(ctx context.Context, userID string) (UserStatus, error)
}

// StaticDirectory is an in-memory UserDirectory for tests and single-node
// deployments. Unknown users are reported inactive.
type StaticDirectory struct {
	users map[string]UserStatus
}

// NewStaticDirectory builds a directory from a fixed user set.
func NewStaticDirectory(users map[string]UserStatus) *StaticDirectory {
	cp := make(map[string]UserStatus, len(users))
	for id, st := range users {
		cp[id] = st
	}
	return &StaticDirectory{users: cp}
}

func (d *StaticDirectory) Status(_ context.Context, userID string) (UserStatus, error) {
	st, ok := d.users[userID]
	if !ok {
		return UserStatus{Active: false}, nil
	}
	return st, nil
}
