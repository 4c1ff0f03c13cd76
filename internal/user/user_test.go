package user

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	t.Parallel()

	sentinels := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrUsernameTaken", ErrUsernameTaken},
		{"ErrInvalidUsername", ErrInvalidUsername},
		{"ErrNicknameLength", ErrNicknameLength},
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				if !errors.Is(a.err, b.err) {
					t.Errorf("errors.Is(%s, %s) = false, want true", a.name, b.name)
				}
			} else if errors.Is(a.err, b.err) {
				t.Errorf("errors.Is(%s, %s) = true, want false", a.name, b.name)
			}
		}
	}
}

func TestValidateUsername(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"minimum length", "abc", false},
		{"maximum length", "abcdefghijklmnopqrst", false},
		{"with digits and underscore", "user_123", false},
		{"too short", "ab", true},
		{"too long", "abcdefghijklmnopqrstu", true},
		{"contains space", "user name", true},
		{"contains dash", "user-name", true},
		{"empty", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateUsername(tc.username)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateUsername(%q) error = %v, wantErr %v", tc.username, err, tc.wantErr)
			}
		})
	}
}

func TestValidateNickname(t *testing.T) {
	t.Parallel()
	if err := ValidateNickname("a"); err != nil {
		t.Errorf("ValidateNickname(single char) error = %v, want nil", err)
	}
	if err := ValidateNickname(""); err == nil {
		t.Error("ValidateNickname(empty) error = nil, want error")
	}

	long := make([]byte, 33)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidateNickname(string(long)); err == nil {
		t.Error("ValidateNickname(33 chars) error = nil, want error")
	}
}

func TestValidateStatusMessage(t *testing.T) {
	t.Parallel()
	if err := ValidateStatusMessage(nil); err != nil {
		t.Errorf("ValidateStatusMessage(nil) error = %v, want nil", err)
	}

	ok := "back in a bit"
	if err := ValidateStatusMessage(&ok); err != nil {
		t.Errorf("ValidateStatusMessage(%q) error = %v, want nil", ok, err)
	}

	long := make([]byte, 121)
	for i := range long {
		long[i] = 'x'
	}
	longStr := string(long)
	if err := ValidateStatusMessage(&longStr); err == nil {
		t.Error("ValidateStatusMessage(121 chars) error = nil, want error")
	}
}

func TestCreateParamsZeroValue(t *testing.T) {
	t.Parallel()
	var params CreateParams
	if params.Username != "" || params.PasswordHash != "" {
		t.Error("zero-value CreateParams should have empty fields")
	}
}
