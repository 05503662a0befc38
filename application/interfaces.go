package application

import (
	"context"
)

// UpkeepEngine is the part of the raffle engine the automation loop drives
type UpkeepEngine interface {
	CheckUpkeep() bool
	PerformUpkeep(ctx context.Context) (int64, error)
	RedrawDue() bool
	RequestRedraw(ctx context.Context) (int64, error)
}
