package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/twbeatles/intranet-messenger/internal/user"
)

// userModel is the JSON shape returned for a user anywhere in the API. It never carries a password hash or MFA
// secret; only MFAEnabled leaks whether the second factor is on.
type userModel struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Nickname      string    `json:"nickname"`
	ProfileImage  *string   `json:"profile_image,omitempty"`
	Status        string    `json:"status"`
	StatusMessage *string   `json:"status_message,omitempty"`
	MFAEnabled    bool      `json:"mfa_enabled"`
	CreatedAt     time.Time `json:"created_at"`
}

func toUserModel(u *user.User) *userModel {
	if u == nil {
		return nil
	}
	return &userModel{
		ID:            u.ID,
		Username:      u.Username,
		Nickname:      u.Nickname,
		ProfileImage:  u.ProfileImage,
		Status:        string(u.Status),
		StatusMessage: u.StatusMessage,
		MFAEnabled:    u.MFAEnabled,
		CreatedAt:     u.CreatedAt,
	}
}

func toUserModels(users []*user.User) []*userModel {
	models := make([]*userModel, len(users))
	for i, u := range users {
		models[i] = toUserModel(u)
	}
	return models
}
