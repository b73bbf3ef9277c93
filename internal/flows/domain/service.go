package domain

import "context"

// Service executes registry commands. Each mutating command runs in one
// transaction that first brings the domain up to date at Command.Now.
type Service interface {
	Execute(ctx context.Context, cmd Command) (*Result, error)

	Check(ctx context.Context, cmd Command) (*Result, error)
	Create(ctx context.Context, cmd Command) (*Result, error)
	Renew(ctx context.Context, cmd Command) (*Result, error)
	Delete(ctx context.Context, cmd Command) (*Result, error)
	Restore(ctx context.Context, cmd Command) (*Result, error)
	Transfer(ctx context.Context, cmd Command) (*Result, error)
	UpdateRecurrence(ctx context.Context, cmd Command) (*Result, error)
}
