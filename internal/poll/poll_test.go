package poll

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestCreateParamsValidate(t *testing.T) {
	t.Parallel()

	base := CreateParams{
		RoomID:    uuid.New(),
		CreatedBy: uuid.New(),
		Question:  "Lunch?",
		Options:   []string{"Pizza", "Sushi"},
	}
	if err := base.Validate(); err != nil {
		t.Errorf("Validate(valid) error = %v, want nil", err)
	}

	tooFew := base
	tooFew.Options = []string{"Pizza"}
	if err := tooFew.Validate(); !errors.Is(err, ErrTooFewOptions) {
		t.Errorf("Validate(one option) error = %v, want ErrTooFewOptions", err)
	}

	tooMany := base
	tooMany.Options = make([]string, MaxOptions+1)
	for i := range tooMany.Options {
		tooMany.Options[i] = "option"
	}
	if err := tooMany.Validate(); !errors.Is(err, ErrTooManyOptions) {
		t.Errorf("Validate(%d options) error = %v, want ErrTooManyOptions", len(tooMany.Options), err)
	}

	emptyQuestion := base
	emptyQuestion.Question = ""
	if err := emptyQuestion.Validate(); !errors.Is(err, ErrQuestionLength) {
		t.Errorf("Validate(empty question) error = %v, want ErrQuestionLength", err)
	}

	longOption := base
	long := make([]byte, 121)
	for i := range long {
		long[i] = 'x'
	}
	longOption.Options = []string{string(long), "ok"}
	if err := longOption.Validate(); !errors.Is(err, ErrOptionTextLength) {
		t.Errorf("Validate(long option) error = %v, want ErrOptionTextLength", err)
	}
}

func TestSentinelErrors(t *testing.T) {
	t.Parallel()
	sentinels := []error{ErrNotFound, ErrOptionNotFound, ErrOptionWrongPoll, ErrClosed, ErrNotMember}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			if errors.Is(a, b) {
				t.Errorf("sentinel %d should not match sentinel %d", i, j)
			}
		}
	}
}
