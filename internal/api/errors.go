// Package api wires the domain packages (room, user, message, pin, poll, reaction, upload, search, session,
// presence, gateway) to HTTP handlers. Handlers stay thin: decode, call a repository, translate the error, shape the
// response.
package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/message"
	"github.com/twbeatles/intranet-messenger/internal/oidc"
	"github.com/twbeatles/intranet-messenger/internal/pin"
	"github.com/twbeatles/intranet-messenger/internal/poll"
	"github.com/twbeatles/intranet-messenger/internal/reaction"
	"github.com/twbeatles/intranet-messenger/internal/room"
	"github.com/twbeatles/intranet-messenger/internal/roomfile"
	"github.com/twbeatles/intranet-messenger/internal/upload"
	"github.com/twbeatles/intranet-messenger/internal/user"
)

// mapDomainError translates the sentinel errors shared by every room-scoped domain package into the stable HTTP
// envelope. Handlers that need a status or code this switch does not cover handle that error themselves before
// falling through to it.
func mapDomainError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, room.ErrNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, message.ErrNotFound),
		errors.Is(err, message.ErrReplyNotFound),
		errors.Is(err, pin.ErrNotFound),
		errors.Is(err, poll.ErrNotFound),
		errors.Is(err, poll.ErrOptionNotFound),
		errors.Is(err, roomfile.ErrNotFound),
		errors.Is(err, upload.ErrJobNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Not found")

	case errors.Is(err, room.ErrNotMember),
		errors.Is(err, poll.ErrNotMember),
		errors.Is(err, message.ErrNotAuthor):
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")

	case errors.Is(err, upload.ErrFileTooLarge):
		return httputil.Fail(c, fiber.StatusRequestEntityTooLarge, httputil.CodePayloadTooLarge, err.Error())

	case errors.Is(err, upload.ErrNoFile),
		errors.Is(err, upload.ErrTokenNotFound),
		errors.Is(err, upload.ErrTokenWrongUser),
		errors.Is(err, upload.ErrTokenWrongRoom),
		errors.Is(err, upload.ErrTokenWrongType):
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, err.Error())

	case errors.Is(err, oidc.ErrNotConfigured):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Single sign-on is not configured")

	case errors.Is(err, room.ErrAlreadyMember),
		errors.Is(err, user.ErrUsernameTaken),
		errors.Is(err, message.ErrAlreadyDeleted),
		errors.Is(err, poll.ErrClosed),
		errors.Is(err, poll.ErrOptionWrongPoll),
		errors.Is(err, pin.ErrPinLimitReached):
		return httputil.Fail(c, fiber.StatusConflict, httputil.CodeConflict, err.Error())

	case errors.Is(err, room.ErrNameLength),
		errors.Is(err, room.ErrDirectRoomSize),
		errors.Is(err, room.ErrCannotKickSelf),
		errors.Is(err, user.ErrInvalidUsername),
		errors.Is(err, user.ErrNicknameLength),
		errors.Is(err, user.ErrStatusMessageRange),
		errors.Is(err, user.ErrInvalidPassword),
		errors.Is(err, message.ErrContentTooLong),
		errors.Is(err, message.ErrEmptyContent),
		errors.Is(err, message.ErrReplyWrongRoom),
		errors.Is(err, pin.ErrEmptyTarget),
		errors.Is(err, poll.ErrQuestionLength),
		errors.Is(err, poll.ErrTooFewOptions),
		errors.Is(err, poll.ErrTooManyOptions),
		errors.Is(err, poll.ErrOptionTextLength),
		errors.Is(err, reaction.ErrEmptyEmoji),
		errors.Is(err, reaction.ErrEmojiTooLong):
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, err.Error())

	default:
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
}
