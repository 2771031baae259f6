package migration

import "context"

// Migrator brings the run history schema up to date
type Migrator interface {
	Run(ctx context.Context) error
}
