// Package maintenance implements the single background worker that keeps derived and time-bounded state from
// growing without limit: closing expired polls, trimming old access logs, removing rooms with no members left, and
// optionally enforcing a retention horizon on messages and the files attached to them.
package maintenance

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/audit"
	"github.com/twbeatles/intranet-messenger/internal/message"
	"github.com/twbeatles/intranet-messenger/internal/poll"
	"github.com/twbeatles/intranet-messenger/internal/room"
	"github.com/twbeatles/intranet-messenger/internal/roomfile"
)

// Worker runs the maintenance sweep on a fixed interval until its context is cancelled. A single instance is
// started once per process; the sweep itself does nothing that depends on being run from only one process, so
// running it redundantly across replicas wastes work but cannot corrupt state.
type Worker struct {
	interval               time.Duration
	accessLogRetention     time.Duration
	messageRetention       time.Duration
	messageRetentionActive bool
	uploadsRoot            string

	polls     poll.Repository
	auditRepo audit.Repository
	rooms     room.Repository
	messages  message.Repository
	roomfiles roomfile.Repository

	log zerolog.Logger
}

// Config groups the tunables the maintenance loop needs beyond its repository dependencies.
type Config struct {
	// Interval is how often the sweep runs. Callers are expected to have already floored this at 30s, matching the
	// configuration surface's own validation.
	Interval time.Duration
	// AccessLogRetention bounds how long AccessLog rows are kept.
	AccessLogRetention time.Duration
	// MessageRetention, when non-zero, bounds how long messages and their attached files are kept. Zero disables
	// message/file retention entirely; polls, access logs, and empty rooms are still swept regardless.
	MessageRetention time.Duration
	// UploadsRoot is the directory every stored upload lives under; retention-deleted files are only unlinked from
	// disk if they resolve inside this root.
	UploadsRoot string
}

// New creates a Worker wired to every repository its sweep steps touch.
func New(cfg Config, polls poll.Repository, auditRepo audit.Repository, rooms room.Repository, messages message.Repository, roomfiles roomfile.Repository, logger zerolog.Logger) *Worker {
	return &Worker{
		interval:               cfg.Interval,
		accessLogRetention:     cfg.AccessLogRetention,
		messageRetention:       cfg.MessageRetention,
		messageRetentionActive: cfg.MessageRetention > 0,
		uploadsRoot:            cfg.UploadsRoot,
		polls:                  polls,
		auditRepo:              auditRepo,
		rooms:                  rooms,
		messages:               messages,
		roomfiles:              roomfiles,
		log:                    logger.With().Str("component", "maintenance").Logger(),
	}
}

// Run executes one sweep immediately, then repeats every interval until ctx is cancelled. It never blocks a request
// path: each step's failure is logged and the sweep moves on to the next step and, eventually, the next tick.
func (w *Worker) Run(ctx context.Context) {
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep runs every maintenance step once, independent of one another's success.
func (w *Worker) sweep(ctx context.Context) {
	w.closeExpiredPolls(ctx)
	w.trimAccessLogs(ctx)
	w.deleteEmptyRooms(ctx)
	if w.messageRetentionActive {
		w.enforceRetention(ctx)
	}
}

func (w *Worker) closeExpiredPolls(ctx context.Context) {
	n, err := w.polls.CloseExpired(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to close expired polls")
		return
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("closed expired polls")
	}
}

func (w *Worker) trimAccessLogs(ctx context.Context) {
	cutoff := time.Now().Add(-w.accessLogRetention)
	n, err := w.auditRepo.TrimAccessLogsBefore(ctx, cutoff)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to trim access logs")
		return
	}
	if n > 0 {
		w.log.Info().Int64("count", n).Msg("trimmed old access logs")
	}
}

func (w *Worker) deleteEmptyRooms(ctx context.Context) {
	n, err := w.rooms.DeleteEmptyRooms(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to delete empty rooms")
		return
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("deleted empty rooms")
	}
}

// enforceRetention purges messages and the room files attached to them older than the configured horizon, unlinking
// the retained files' disk objects through the uploads-root-scoped safe-delete helper.
func (w *Worker) enforceRetention(ctx context.Context) {
	cutoff := time.Now().Add(-w.messageRetention)

	if n, err := w.messages.DeleteOlderThan(ctx, cutoff); err != nil {
		w.log.Warn().Err(err).Msg("failed to delete messages past retention horizon")
	} else if n > 0 {
		w.log.Info().Int("count", n).Msg("deleted messages past retention horizon")
	}

	paths, err := w.roomfiles.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to delete room files past retention horizon")
		return
	}
	for _, path := range paths {
		if err := safeDelete(w.uploadsRoot, path); err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("failed to unlink retained-past-horizon file")
		}
	}
	if len(paths) > 0 {
		w.log.Info().Int("count", len(paths)).Msg("unlinked room files past retention horizon")
	}
}
