package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Housekeeping periodically deletes expired invitations and password resets
type Housekeeping struct {
	invitations InvitationStore
	resets      PasswordResetStore
	interval    time.Duration
	now         func() time.Time
}

// NewHousekeeping creates the cleanup worker
func NewHousekeeping(invitations InvitationStore, resets PasswordResetStore, interval time.Duration) *Housekeeping {
	return &Housekeeping{
		invitations: invitations,
		resets:      resets,
		interval:    interval,
		now:         time.Now,
	}
}

// Run cleans up once immediately and then on every tick until ctx is done
func (h *Housekeeping) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cleanup pass
func (h *Housekeeping) RunOnce(ctx context.Context) {
	now := h.now()

	invitations, err := h.invitations.DeleteExpired(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete expired invitations")
	}

	resets, err := h.resets.DeleteExpired(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete expired password resets")
	}

	if invitations > 0 || resets > 0 {
		log.Info().
			Int64("invitations", invitations).
			Int64("password_resets", resets).
			Msg("Expired records deleted")
	}
}
