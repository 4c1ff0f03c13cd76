// Package poll implements Poll, PollOption, and PollVote: single- or multiple-choice polls scoped to a room, with
// atomic vote replacement for single-choice polls.
package poll

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the poll package.
var (
	ErrNotFound         = errors.New("poll not found")
	ErrOptionNotFound   = errors.New("poll option not found")
	ErrOptionWrongPoll  = errors.New("option does not belong to this poll")
	ErrClosed           = errors.New("poll is closed")
	ErrNotMember        = errors.New("user is not a member of this poll's room")
	ErrQuestionLength   = errors.New("poll question must be between 1 and 300 characters")
	ErrTooFewOptions    = errors.New("poll must have at least two options")
	ErrTooManyOptions   = errors.New("poll must have at most ten options")
	ErrOptionTextLength = errors.New("poll option text must be between 1 and 120 characters")
)

// MinOptions and MaxOptions bound how many options a poll may have.
const (
	MinOptions = 2
	MaxOptions = 10
)

// Poll holds the fields read from the polls table.
type Poll struct {
	ID             uuid.UUID
	RoomID         uuid.UUID
	CreatedBy      uuid.UUID
	Question       string
	MultipleChoice bool
	Anonymous      bool
	Closed         bool
	EndsAt         *time.Time
	CreatedAt      time.Time
}

// Option holds a single selectable choice on a poll.
type Option struct {
	ID         uuid.UUID
	PollID     uuid.UUID
	OptionText string
}

// OptionResult is an option paired with its vote count and, for non-anonymous polls, the voting user ids.
type OptionResult struct {
	Option
	VoteCount int
	VoterIDs  []uuid.UUID
}

// CreateParams groups the inputs for creating a new poll.
type CreateParams struct {
	RoomID         uuid.UUID
	CreatedBy      uuid.UUID
	Question       string
	Options        []string
	MultipleChoice bool
	Anonymous      bool
	EndsAt         *time.Time
}

// Validate checks the question length and option count/length bounds.
func (p CreateParams) Validate() error {
	if n := utf8.RuneCountInString(p.Question); n < 1 || n > 300 {
		return ErrQuestionLength
	}
	if len(p.Options) < MinOptions {
		return ErrTooFewOptions
	}
	if len(p.Options) > MaxOptions {
		return ErrTooManyOptions
	}
	for _, opt := range p.Options {
		if n := utf8.RuneCountInString(opt); n < 1 || n > 120 {
			return ErrOptionTextLength
		}
	}
	return nil
}

// Repository defines the data-access contract for poll operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Poll, []Option, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Poll, error)
	Options(ctx context.Context, pollID uuid.UUID) ([]Option, error)
	Results(ctx context.Context, pollID uuid.UUID) ([]OptionResult, error)
	ListForRoom(ctx context.Context, roomID uuid.UUID) ([]Poll, error)

	// Vote casts userID's vote for optionID on pollID. optionID must belong to pollID and pollID must not be closed;
	// violations return ErrOptionWrongPoll / ErrClosed without persisting a vote row. For a single-choice poll, any
	// prior vote by userID on this poll is replaced atomically with the new one.
	Vote(ctx context.Context, pollID, optionID, userID uuid.UUID) error
	Close(ctx context.Context, pollID uuid.UUID) error

	// CloseExpired closes every poll whose ends_at has passed and is not already closed. Used by the maintenance
	// loop; returns how many polls were closed.
	CloseExpired(ctx context.Context) (int, error)
}
