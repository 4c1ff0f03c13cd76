package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/config"
	"github.com/twbeatles/intranet-messenger/internal/cryptoutil"
	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/session"
	"github.com/twbeatles/intranet-messenger/internal/statestore"
	"github.com/twbeatles/intranet-messenger/internal/user"
)

// totpIssuer names the TOTP issuer shown in authenticator apps.
const totpIssuer = "Intranet Messenger"

// mfaPendingTTL bounds how long a generated-but-unconfirmed TOTP secret is held.
const mfaPendingTTL = 10 * time.Minute

const mfaPendingKeyPrefix = "mfa_pending:"

const recoveryCodeCount = 10

// MFAHandler serves the authenticated /api/me/mfa surface: enabling, confirming, disabling, and regenerating the
// TOTP second factor and its recovery codes.
type MFAHandler struct {
	users user.Repository
	store *statestore.Store
	cfg   *config.Config
	log   zerolog.Logger
}

// NewMFAHandler creates a new MFA handler.
func NewMFAHandler(users user.Repository, store *statestore.Store, cfg *config.Config, logger zerolog.Logger) *MFAHandler {
	return &MFAHandler{users: users, store: store, cfg: cfg, log: logger}
}

type mfaPasswordRequest struct {
	Password string `json:"password"`
}

type beginSetupResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// Begin handles POST /api/me/mfa/setup. It verifies the caller's password, generates a fresh TOTP secret, and
// stashes it server-side until Confirm is called with a valid code; the secret is never persisted on the user row
// until then.
func (h *MFAHandler) Begin(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)

	var body mfaPasswordRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	creds, err := h.users.GetCredentialsByID(c.Context(), userID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if ok, err := cryptoutil.VerifyPassword(body.Password, creds.PasswordHash); err != nil || !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Incorrect password")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: creds.Username,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to generate TOTP key")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	wrapped, err := cryptoutil.WrapRoomKey(key.Secret(), h.cfg.ServerSecret)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to wrap TOTP secret")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	if err := h.store.Set(c.Context(), mfaPendingKeyPrefix+userID.String(), wrapped, mfaPendingTTL); err != nil {
		h.log.Error().Err(err).Msg("failed to stash pending MFA secret")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	return httputil.Success(c, beginSetupResponse{Secret: key.Secret(), URL: key.URL()})
}

type confirmSetupRequest struct {
	Code string `json:"code"`
}

type confirmSetupResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// Confirm handles POST /api/me/mfa/confirm. It validates the code against the pending secret, enables MFA, and
// returns a freshly generated set of recovery codes; this is the only time the plaintext codes are ever sent to the
// client.
func (h *MFAHandler) Confirm(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)

	var body confirmSetupRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	wrapped, ok := h.store.GetAndDelete(c.Context(), mfaPendingKeyPrefix+userID.String())
	if !ok {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, "No MFA setup is pending; call setup again")
	}

	secret, err := cryptoutil.UnwrapRoomKey(wrapped, h.cfg.ServerSecret)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to unwrap pending TOTP secret")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	if !totp.Validate(body.Code, secret) {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Invalid code")
	}

	codes := generateRecoveryCodes()
	hashes, err := hashRecoveryCodes(codes, h.cfg)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to hash recovery codes")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	if err := h.users.EnableMFA(c.Context(), userID, wrapped, hashes); err != nil {
		return mapDomainError(c, err)
	}

	return httputil.Success(c, confirmSetupResponse{RecoveryCodes: codes})
}

type mfaVerifyRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

// Disable handles POST /api/me/mfa/disable. Both the account password and a currently valid TOTP or recovery code
// are required, so a stolen session cookie alone cannot turn off the second factor.
func (h *MFAHandler) Disable(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)

	var body mfaVerifyRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	creds, err := h.users.GetCredentialsByID(c.Context(), userID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if ok, err := cryptoutil.VerifyPassword(body.Password, creds.PasswordHash); err != nil || !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Incorrect password")
	}
	if !creds.MFAEnabled {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, "MFA is not enabled")
	}

	ok, err := verifyMFACode(c.Context(), h.users, h.cfg, creds, body.Code)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to verify MFA code")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Invalid MFA code")
	}

	if err := h.users.DisableMFA(c.Context(), userID); err != nil {
		return mapDomainError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RegenerateCodes handles POST /api/me/mfa/recovery-codes. It replaces every existing recovery code with a freshly
// generated set without touching the enrolled TOTP secret.
func (h *MFAHandler) RegenerateCodes(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)

	var body mfaVerifyRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	creds, err := h.users.GetCredentialsByID(c.Context(), userID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if ok, err := cryptoutil.VerifyPassword(body.Password, creds.PasswordHash); err != nil || !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Incorrect password")
	}
	if !creds.MFAEnabled {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, "MFA is not enabled")
	}

	ok, err := verifyMFACode(c.Context(), h.users, h.cfg, creds, body.Code)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to verify MFA code")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthenticated, "Invalid MFA code")
	}

	codes := generateRecoveryCodes()
	hashes, err := hashRecoveryCodes(codes, h.cfg)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to hash recovery codes")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	if err := h.users.ReplaceRecoveryCodes(c.Context(), userID, hashes); err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Success(c, confirmSetupResponse{RecoveryCodes: codes})
}

// verifyMFACode checks a code against the caller's enrolled TOTP secret, falling back to the unused recovery codes
// when the TOTP check fails. A matching recovery code is consumed so it cannot be reused.
func verifyMFACode(ctx context.Context, users user.Repository, cfg *config.Config, creds *user.Credentials, code string) (bool, error) {
	if creds.MFASecretWrapped != nil {
		secret, err := cryptoutil.UnwrapRoomKey(*creds.MFASecretWrapped, cfg.ServerSecret)
		if err != nil {
			return false, err
		}
		if totp.Validate(code, secret) {
			return true, nil
		}
	}

	recoveryCodes, err := users.GetUnusedRecoveryCodes(ctx, creds.ID)
	if err != nil {
		return false, err
	}
	for _, rc := range recoveryCodes {
		match, err := verifyRecoveryCode(code, rc.CodeHash)
		if err != nil {
			continue
		}
		if match {
			if err := users.UseRecoveryCode(ctx, rc.ID); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// generateRecoveryCodes returns recoveryCodeCount codes in "xxxx-xxxx-xxxx-xxxx-xxxx" format, each representing 10
// random bytes (80 bits of entropy).
func generateRecoveryCodes() []string {
	codes := make([]string, recoveryCodeCount)
	for i := range codes {
		b := make([]byte, 10)
		_, _ = rand.Read(b)
		h := hex.EncodeToString(b)
		codes[i] = h[:4] + "-" + h[4:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:]
	}
	return codes
}

func hashRecoveryCodes(codes []string, cfg *config.Config) ([]string, error) {
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := cryptoutil.HashPassword(strings.ReplaceAll(code, "-", ""),
			cfg.Argon2Memory, cfg.Argon2Iterations, cfg.Argon2Parallelism, cfg.Argon2SaltLength, cfg.Argon2KeyLength)
		if err != nil {
			return nil, err
		}
		hashes[i] = hash
	}
	return hashes, nil
}

// verifyRecoveryCode checks a plaintext recovery code (hyphenated or not) against its Argon2id hash.
func verifyRecoveryCode(code, hash string) (bool, error) {
	return cryptoutil.VerifyPassword(strings.ReplaceAll(code, "-", ""), hash)
}
