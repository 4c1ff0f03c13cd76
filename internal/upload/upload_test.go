package upload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/statestore"
)

func TestClassifyExtension(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want Kind
	}{
		{"photo.jpg", KindImage},
		{"photo.JPEG", KindImage},
		{"photo.png", KindImage},
		{"animation.gif", KindImage},
		{"report.pdf", KindFile},
		{"archive.zip", KindFile},
		{"noext", KindFile},
	}
	for _, tc := range cases {
		if got := ClassifyExtension(tc.name); got != tc.want {
			t.Errorf("ClassifyExtension(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSecureFilename(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"my file (final).docx", "my_file_final_.docx"},
		{"", "file"},
		{"..", "file"},
	}
	for _, tc := range cases {
		if got := SecureFilename(tc.in); got != tc.want {
			t.Errorf("SecureFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStoredName(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	name, err := StoredName(now, "photo.png")
	if err != nil {
		t.Fatalf("StoredName: %v", err)
	}
	if want := "20260102030405_"; len(name) < len(want) || name[:len(want)] != want {
		t.Errorf("StoredName = %q, want prefix %q", name, want)
	}
	if got, want := name[len(name)-len("photo.png"):], "photo.png"; got != want {
		t.Errorf("StoredName suffix = %q, want %q", got, want)
	}
}

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	return statestore.New("", "im-test", zerolog.Nop())
}

func TestMintConsumeRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	userID, roomID := uuid.New(), uuid.New()
	payload := Token{
		UserID: userID, RoomID: roomID,
		FilePath: "uploads/x.png", FileName: "x.png", FileType: KindImage, FileSize: 10,
	}
	token, err := Mint(ctx, store, payload)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	got, err := Consume(ctx, store, token, userID, roomID, KindImage)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got.FileName != "x.png" {
		t.Errorf("Consume FileName = %q, want %q", got.FileName, "x.png")
	}

	if _, err := Consume(ctx, store, token, userID, roomID, KindImage); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("replaying consumed token error = %v, want ErrTokenNotFound", err)
	}
}

func TestConsumeWrongUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	userID, roomID := uuid.New(), uuid.New()
	token, err := Mint(ctx, store, Token{UserID: userID, RoomID: roomID, FileType: KindFile})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := Consume(ctx, store, token, uuid.New(), roomID, KindFile); !errors.Is(err, ErrTokenWrongUser) {
		t.Errorf("Consume(wrong user) error = %v, want ErrTokenWrongUser", err)
	}

	// A mismatch must not burn the token: the rightful uploader can still claim it.
	if _, err := Consume(ctx, store, token, userID, roomID, KindFile); err != nil {
		t.Errorf("Consume after a rejected mismatch error = %v, want success", err)
	}
}

func TestConsumeWrongRoom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	userID, roomID := uuid.New(), uuid.New()
	token, err := Mint(ctx, store, Token{UserID: userID, RoomID: roomID, FileType: KindFile})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := Consume(ctx, store, token, userID, uuid.New(), KindFile); !errors.Is(err, ErrTokenWrongRoom) {
		t.Errorf("Consume(wrong room) error = %v, want ErrTokenWrongRoom", err)
	}
}

func TestConsumeWrongType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	userID, roomID := uuid.New(), uuid.New()
	token, err := Mint(ctx, store, Token{UserID: userID, RoomID: roomID, FileType: KindFile})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := Consume(ctx, store, token, userID, roomID, KindImage); !errors.Is(err, ErrTokenWrongType) {
		t.Errorf("Consume(wrong type) error = %v, want ErrTokenWrongType", err)
	}
}

func TestConsumeUnknownToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := Consume(ctx, store, "not-a-real-token", uuid.New(), uuid.New(), KindFile); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Consume(unknown token) error = %v, want ErrTokenNotFound", err)
	}
}
