package pin

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestCreateParamsValidate(t *testing.T) {
	t.Parallel()

	if err := (CreateParams{}).Validate(); !errors.Is(err, ErrEmptyTarget) {
		t.Errorf("Validate(empty) error = %v, want ErrEmptyTarget", err)
	}

	msgID := uuid.New()
	if err := (CreateParams{MessageID: &msgID}).Validate(); err != nil {
		t.Errorf("Validate(message only) error = %v, want nil", err)
	}

	content := "standup at 10am"
	if err := (CreateParams{Content: &content}).Validate(); err != nil {
		t.Errorf("Validate(content only) error = %v, want nil", err)
	}

	if err := (CreateParams{MessageID: &msgID, Content: &content}).Validate(); err != nil {
		t.Errorf("Validate(both) error = %v, want nil", err)
	}
}

func TestSentinelErrors(t *testing.T) {
	t.Parallel()
	if errors.Is(ErrNotFound, ErrEmptyTarget) {
		t.Error("ErrNotFound should not match ErrEmptyTarget")
	}
	if errors.Is(ErrPinLimitReached, ErrNotFound) {
		t.Error("ErrPinLimitReached should not match ErrNotFound")
	}
}
