package services

import (
	"context"
	"errors"

	"taixiu-backend/internal/models"
)

// Broadcaster delivers session views to a presentation surface. Delivery
// errors are reported to the engine, which logs them and moves on.
type Broadcaster interface {
	BroadcastSnapshot(ctx context.Context, snapshot models.SessionSnapshot) error
	BroadcastResult(ctx context.Context, result models.SessionResult) error
}

// MultiBroadcaster fans out to every member and joins their errors.
type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) BroadcastSnapshot(ctx context.Context, snapshot models.SessionSnapshot) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.BroadcastSnapshot(ctx, snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiBroadcaster) BroadcastResult(ctx context.Context, result models.SessionResult) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.BroadcastResult(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
