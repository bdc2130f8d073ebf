package core

import (
	"context"

	"notemeter/internal/types"
)

// IdentityResolver loads the user named by a request's identity header.
// *users.Service satisfies it; loading a user also enrolls its billing
// subject.
type IdentityResolver interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}
