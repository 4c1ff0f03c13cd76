// Package upload implements the multipart file intake pipeline: filename sanitization, file_type classification,
// and the upload-token handshake that binds a successful upload to a later send_message call.
package upload

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/twbeatles/intranet-messenger/internal/statestore"
)

// Sentinel errors for the upload package.
var (
	ErrNoFile         = errors.New("no file provided")
	ErrFileTooLarge   = errors.New("file exceeds the maximum upload size")
	ErrTokenNotFound  = errors.New("upload token is missing or has expired")
	ErrTokenConsumed  = errors.New("upload token already consumed")
	ErrTokenWrongUser = errors.New("upload token was not issued to this user")
	ErrTokenWrongRoom = errors.New("upload token was not issued for this room")
	ErrTokenWrongType = errors.New("upload token file_type does not match the expected type")
)

// TokenTTL is how long a minted upload token remains valid before send_message must consume it.
const TokenTTL = 5 * time.Minute

// Kind classifies an uploaded file for the message it will be attached to.
type Kind string

const (
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// imageExtensions mirrors the teacher's media.ImageContentTypes set, translated to file extensions since the spec
// classifies file_type from the upload's extension rather than its declared Content-Type.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tiff": true,
}

// ClassifyExtension returns KindImage for extensions in the image set, KindFile otherwise.
func ClassifyExtension(filename string) Kind {
	ext := strings.ToLower(filepath.Ext(filename))
	if imageExtensions[ext] {
		return KindImage
	}
	return KindFile
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SecureFilename strips any path components from name and replaces characters outside [A-Za-z0-9._-] with
// underscores, preventing path traversal and shell-hostile filenames from reaching the filesystem.
func SecureFilename(name string) string {
	name = filepath.Base(filepath.Clean(name))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// StoredName renders the on-disk filename for an upload: `YYYYmmddHHMMSS_<8-hex>_<secure-name>`, unguessable and
// collision-free without needing a database round trip to reserve it.
func StoredName(now time.Time, original string) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate filename suffix: %w", err)
	}
	return fmt.Sprintf("%s_%x_%s", now.Format("20060102150405"), suffix, SecureFilename(original)), nil
}

// Token is the payload minted into StateStore when an uploaded file becomes usable (at upload time when scanning is
// disabled, or by the scan worker after a clean verdict), and the payload a send_message call must later present to
// claim the uploaded file.
type Token struct {
	UserID   uuid.UUID `json:"user_id"`
	RoomID   uuid.UUID `json:"room_id"`
	FilePath string    `json:"file_path"`
	FileName string    `json:"file_name"`
	FileType Kind      `json:"file_type"`
	FileSize int64     `json:"file_size"`
}

// generateTokenKey returns a random URL-safe 32-byte value, used as the StateStore key so the token value itself is
// the capability: knowing it is both necessary and sufficient to look up the payload.
func generateTokenKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate upload token: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b), nil
}

const tokenKeyPrefix = "upload_token:"

// Mint stores an upload token for payload with TokenTTL and returns the opaque token string the client must present
// to send_message.
func Mint(ctx context.Context, store *statestore.Store, payload Token) (string, error) {
	token, err := generateTokenKey()
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal upload token payload: %w", err)
	}
	if err := store.Set(ctx, tokenKeyPrefix+token, string(body), TokenTTL); err != nil {
		return "", fmt.Errorf("store upload token: %w", err)
	}
	return token, nil
}

// CheckFailure validates the token against (userID, roomID, expectedType) without consuming it, returning the
// specific mismatch so the sender can distinguish an expired token from a forged or misdirected one. A nil return
// means the token would currently be accepted.
func CheckFailure(ctx context.Context, store *statestore.Store, token string, userID, roomID uuid.UUID, expectedType Kind) error {
	raw, ok := store.Get(ctx, tokenKeyPrefix+token)
	if !ok {
		return ErrTokenNotFound
	}

	var payload Token
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("unmarshal upload token payload: %w", err)
	}

	if payload.UserID != userID {
		return ErrTokenWrongUser
	}
	if payload.RoomID != roomID {
		return ErrTokenWrongRoom
	}
	if payload.FileType != expectedType {
		return ErrTokenWrongType
	}
	return nil
}

// Consume validates and then atomically claims the token (single-use). A mismatch leaves the token in place, so
// the uploader can retry with corrected parameters; a token that validated but was claimed by a concurrent call in
// the window between the check and the delete returns ErrTokenConsumed, so exactly one of two racing sends wins.
func Consume(ctx context.Context, store *statestore.Store, token string, userID, roomID uuid.UUID, expectedType Kind) (*Token, error) {
	if err := CheckFailure(ctx, store, token, userID, roomID, expectedType); err != nil {
		return nil, err
	}

	raw, ok := store.GetAndDelete(ctx, tokenKeyPrefix+token)
	if !ok {
		return nil, ErrTokenConsumed
	}

	var payload Token
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal upload token payload: %w", err)
	}
	return &payload, nil
}
