package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newReactionApp(env *handlerTestEnv, userID uuid.UUID) *fiber.App {
	handler := NewReactionHandler(env.reactions, env.msgs, env.rooms, env.hub, zerolog.Nop())

	app := fiber.New()
	app.Use(sessionMiddleware(userID))
	app.Post("/messages/:id/reactions", handler.Toggle)
	app.Get("/messages/:id/reactions", handler.List)
	return app
}

func TestReactionToggle_TwiceReturnsToEmpty(t *testing.T) {
	env := newHandlerTestEnv()
	roomID := uuid.New()
	alice := uuid.New()
	env.rooms.addRoom(roomID, alice)
	msg := seedMessage(t, env, roomID, alice, "react to me")

	app := newReactionApp(env, alice)
	url := "/messages/" + msg.ID.String() + "/reactions"

	resp, raw := doReq(t, app, jsonReq(http.MethodPost, url, `{"emoji":"👍"}`))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("first toggle status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusOK, raw)
	}
	var first struct {
		Data []struct {
			Emoji string      `json:"Emoji"`
			Count int         `json:"Count"`
			IDs   []uuid.UUID `json:"UserIDs"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &first); err != nil {
		t.Fatalf("unmarshal first toggle: %v", err)
	}
	if len(first.Data) != 1 || first.Data[0].Count != 1 {
		t.Fatalf("first toggle summaries = %+v, want one emoji with count 1", first.Data)
	}

	resp, raw = doReq(t, app, jsonReq(http.MethodPost, url, `{"emoji":"👍"}`))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("second toggle status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusOK, raw)
	}
	var second struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &second); err != nil {
		t.Fatalf("unmarshal second toggle: %v", err)
	}
	if len(second.Data) != 0 {
		t.Fatalf("second toggle summaries = %v, want the reaction removed", second.Data)
	}
}

func TestReactionToggle_NonMemberForbidden(t *testing.T) {
	env := newHandlerTestEnv()
	roomID := uuid.New()
	author := uuid.New()
	env.rooms.addRoom(roomID, author)
	msg := seedMessage(t, env, roomID, author, "private")

	outsider := uuid.New()
	app := newReactionApp(env, outsider)

	resp, _ := doReq(t, app, jsonReq(http.MethodPost, "/messages/"+msg.ID.String()+"/reactions", `{"emoji":"👍"}`))
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("non-member toggle status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}

func TestReactionToggle_EmptyEmojiRejected(t *testing.T) {
	env := newHandlerTestEnv()
	roomID := uuid.New()
	alice := uuid.New()
	env.rooms.addRoom(roomID, alice)
	msg := seedMessage(t, env, roomID, alice, "react to me")

	app := newReactionApp(env, alice)
	resp, _ := doReq(t, app, jsonReq(http.MethodPost, "/messages/"+msg.ID.String()+"/reactions", `{"emoji":""}`))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("empty emoji status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}
