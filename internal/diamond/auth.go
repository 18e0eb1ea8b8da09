package diamond

import (
	"context"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Authorizer decides who may submit cuts. Ownership and access control live
// outside the diamond; it only asks.
type Authorizer interface {
	Authorize(ctx context.Context, sender util.Uint160) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, sender util.Uint160) error

// Authorize calls f.
func (f AuthorizerFunc) Authorize(ctx context.Context, sender util.Uint160) error {
	return f(ctx, sender)
}

// OwnerAuthorizer admits a single owner account.
type OwnerAuthorizer struct {
	Owner util.Uint160
}

// Authorize implements Authorizer.
func (a OwnerAuthorizer) Authorize(_ context.Context, sender util.Uint160) error {
	if sender != a.Owner {
		return &UnauthorizedError{Sender: sender, Reason: "not the contract owner"}
	}
	return nil
}

// AllowAll admits every sender.
var AllowAll = AuthorizerFunc(func(context.Context, util.Uint160) error { return nil })
