package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/twbeatles/intranet-messenger/internal/audit"
	"github.com/twbeatles/intranet-messenger/internal/message"
	"github.com/twbeatles/intranet-messenger/internal/pin"
	"github.com/twbeatles/intranet-messenger/internal/poll"
	"github.com/twbeatles/intranet-messenger/internal/reaction"
	"github.com/twbeatles/intranet-messenger/internal/room"
	"github.com/twbeatles/intranet-messenger/internal/roomfile"
	"github.com/twbeatles/intranet-messenger/internal/user"
)

// fakeUserRepo is a minimal in-memory user.Repository stub recording SetStatus calls for assertions.
type fakeUserRepo struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]user.Status
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{statuses: make(map[uuid.UUID]user.Status)}
}

func (r *fakeUserRepo) Create(context.Context, user.CreateParams) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (r *fakeUserRepo) GetByID(context.Context, uuid.UUID) (*user.User, error) {
	return nil, user.ErrNotFound
}
func (r *fakeUserRepo) GetByUsername(context.Context, string) (*user.Credentials, error) {
	return nil, user.ErrNotFound
}
func (r *fakeUserRepo) GetCredentialsByID(context.Context, uuid.UUID) (*user.Credentials, error) {
	return nil, user.ErrNotFound
}
func (r *fakeUserRepo) ListAll(context.Context) ([]*user.User, error) { return nil, nil }
func (r *fakeUserRepo) CurrentSessionToken(context.Context, uuid.UUID) (string, error) {
	return "", nil
}
func (r *fakeUserRepo) RotateSessionToken(context.Context, uuid.UUID) (string, error) { return "", nil }
func (r *fakeUserRepo) UpdatePasswordHash(context.Context, uuid.UUID, string) error   { return nil }
func (r *fakeUserRepo) Update(context.Context, uuid.UUID, user.UpdateParams) (*user.User, error) {
	return nil, nil
}
func (r *fakeUserRepo) SetStatus(_ context.Context, userID uuid.UUID, status user.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[userID] = status
	return nil
}
func (r *fakeUserRepo) EnableMFA(context.Context, uuid.UUID, string, []string) error { return nil }
func (r *fakeUserRepo) DisableMFA(context.Context, uuid.UUID) error                  { return nil }
func (r *fakeUserRepo) GetUnusedRecoveryCodes(context.Context, uuid.UUID) ([]user.MFARecoveryCode, error) {
	return nil, nil
}
func (r *fakeUserRepo) UseRecoveryCode(context.Context, uuid.UUID) error { return nil }
func (r *fakeUserRepo) ReplaceRecoveryCodes(context.Context, uuid.UUID, []string) error {
	return nil
}
func (r *fakeUserRepo) Delete(context.Context, uuid.UUID) error { return nil }

func (r *fakeUserRepo) statusOf(userID uuid.UUID) (user.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[userID]
	return s, ok
}

// fakeRoomRepo is a minimal room.Repository stub: membership and read cursors are held in plain maps, enough to
// exercise membership checks, AdvanceLastRead, and the unread_count computation without a database.
type fakeRoomRepo struct {
	mu      sync.Mutex
	rooms   map[uuid.UUID]*room.Room
	members map[uuid.UUID]map[uuid.UUID]*room.Member
}

func newFakeRoomRepo() *fakeRoomRepo {
	return &fakeRoomRepo{
		rooms:   make(map[uuid.UUID]*room.Room),
		members: make(map[uuid.UUID]map[uuid.UUID]*room.Member),
	}
}

func (r *fakeRoomRepo) addRoom(roomID uuid.UUID, memberIDs ...uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[roomID] = &room.Room{ID: roomID, Kind: room.KindGroup}
	members := make(map[uuid.UUID]*room.Member, len(memberIDs))
	for i, id := range memberIDs {
		role := room.RoleMember
		if i == 0 {
			role = room.RoleAdmin
		}
		members[id] = &room.Member{RoomID: roomID, UserID: id, Role: role}
	}
	r.members[roomID] = members
}

func (r *fakeRoomRepo) CreateDirectRoom(context.Context, uuid.UUID, uuid.UUID, string) (*room.Room, bool, error) {
	return nil, false, nil
}
func (r *fakeRoomRepo) CreateGroupRoom(context.Context, uuid.UUID, *string, string) (*room.Room, error) {
	return nil, nil
}
func (r *fakeRoomRepo) GetByID(_ context.Context, id uuid.UUID) (*room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil, room.ErrNotFound
	}
	return rm, nil
}
func (r *fakeRoomRepo) ListForUser(_ context.Context, userID uuid.UUID) ([]room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []room.Room
	for roomID, members := range r.members {
		if _, ok := members[userID]; ok {
			out = append(out, *r.rooms[roomID])
		}
	}
	return out, nil
}
func (r *fakeRoomRepo) Rename(context.Context, uuid.UUID, string) (*room.Room, error) {
	return nil, nil
}
func (r *fakeRoomRepo) AddMember(_ context.Context, roomID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[roomID] == nil {
		r.members[roomID] = make(map[uuid.UUID]*room.Member)
	}
	r.members[roomID][userID] = &room.Member{RoomID: roomID, UserID: userID, Role: room.RoleMember}
	return nil
}
func (r *fakeRoomRepo) RemoveMember(_ context.Context, roomID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[roomID], userID)
	return nil
}
func (r *fakeRoomRepo) IsMember(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[roomID][userID]
	return ok, nil
}
func (r *fakeRoomRepo) IsAdmin(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[roomID][userID]
	return ok && m.Role == room.RoleAdmin, nil
}
func (r *fakeRoomRepo) Members(_ context.Context, roomID uuid.UUID) ([]room.MemberWithProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []room.MemberWithProfile
	for _, m := range r.members[roomID] {
		out = append(out, room.MemberWithProfile{Member: *m})
	}
	return out, nil
}
func (r *fakeRoomRepo) Admins(_ context.Context, roomID uuid.UUID) ([]room.MemberWithProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []room.MemberWithProfile
	for _, m := range r.members[roomID] {
		if m.Role == room.RoleAdmin {
			out = append(out, room.MemberWithProfile{Member: *m})
		}
	}
	return out, nil
}
func (r *fakeRoomRepo) SetAdmin(_ context.Context, roomID, userID uuid.UUID, isAdmin bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[roomID][userID]; ok {
		if isAdmin {
			m.Role = room.RoleAdmin
		} else {
			m.Role = room.RoleMember
		}
	}
	return nil
}
func (r *fakeRoomRepo) SetPinned(context.Context, uuid.UUID, uuid.UUID, bool) error { return nil }
func (r *fakeRoomRepo) SetMuted(context.Context, uuid.UUID, uuid.UUID, bool) error  { return nil }
func (r *fakeRoomRepo) AdvanceLastRead(_ context.Context, roomID, userID, newID uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[roomID][userID]; ok {
		m.LastReadMessageID = &newID
	}
	return newID, nil
}
func (r *fakeRoomRepo) DeleteEmptyRooms(context.Context) (int, error) { return 0, nil }

// fakeMessageRepo is a minimal message.Repository stub over an in-memory map.
type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*message.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[uuid.UUID]*message.Message)}
}

func (r *fakeMessageRepo) Create(_ context.Context, params message.CreateParams) (*message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := &message.Message{
		ID:        uuid.New(),
		RoomID:    params.RoomID,
		SenderID:  params.SenderID,
		Content:   params.Content,
		Encrypted: params.Encrypted,
		Type:      params.Type,
		FilePath:  params.FilePath,
		FileName:  params.FileName,
		ReplyTo:   params.ReplyTo,
		CreatedAt: time.Now(),
	}
	r.messages[msg.ID] = msg
	return msg, nil
}
func (r *fakeMessageRepo) GetByID(_ context.Context, id uuid.UUID) (*message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return nil, message.ErrNotFound
	}
	return msg, nil
}
func (r *fakeMessageRepo) List(context.Context, uuid.UUID, *uuid.UUID, int) ([]message.Message, error) {
	return nil, nil
}
func (r *fakeMessageRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return message.ErrNotFound
	}
	msg.Content = message.DeletedMarker
	msg.Encrypted = false
	return nil
}
func (r *fakeMessageRepo) Edit(_ context.Context, id uuid.UUID, content string) (*message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return nil, message.ErrNotFound
	}
	if msg.Content == message.DeletedMarker {
		return nil, message.ErrAlreadyDeleted
	}
	msg.Content = content
	return msg, nil
}
func (r *fakeMessageRepo) DeleteOlderThan(context.Context, time.Time) (int, error) { return 0, nil }

// fakePinRepo, fakePollRepo, fakeReactionRepo, fakeRoomFileRepo, fakeAuditRepo are no-op stubs for the repositories
// events.go touches but these tests don't exercise in depth.
type fakePinRepo struct{}

func (fakePinRepo) Create(context.Context, pin.CreateParams) (*pin.Pin, error) {
	return &pin.Pin{}, nil
}
func (fakePinRepo) List(context.Context, uuid.UUID) ([]pin.Pin, error) { return nil, nil }
func (fakePinRepo) Delete(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (fakePinRepo) Count(context.Context, uuid.UUID) (int, error)      { return 0, nil }

type fakePollRepo struct{}

func (fakePollRepo) Create(context.Context, poll.CreateParams) (*poll.Poll, []poll.Option, error) {
	return &poll.Poll{}, nil, nil
}
func (fakePollRepo) GetByID(context.Context, uuid.UUID) (*poll.Poll, error)    { return &poll.Poll{}, nil }
func (fakePollRepo) Options(context.Context, uuid.UUID) ([]poll.Option, error) { return nil, nil }
func (fakePollRepo) Results(context.Context, uuid.UUID) ([]poll.OptionResult, error) {
	return nil, nil
}
func (fakePollRepo) ListForRoom(context.Context, uuid.UUID) ([]poll.Poll, error) { return nil, nil }
func (fakePollRepo) Vote(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error { return nil }
func (fakePollRepo) Close(context.Context, uuid.UUID) error                      { return nil }
func (fakePollRepo) CloseExpired(context.Context) (int, error)                   { return 0, nil }

type fakeReactionRepo struct{}

func (fakeReactionRepo) Toggle(context.Context, uuid.UUID, uuid.UUID, string) (bool, error) {
	return true, nil
}
func (fakeReactionRepo) ForMessage(context.Context, uuid.UUID) ([]reaction.Summary, error) {
	return nil, nil
}
func (fakeReactionRepo) ForMessages(context.Context, []uuid.UUID) (map[uuid.UUID][]reaction.Summary, error) {
	return nil, nil
}

type fakeRoomFileRepo struct {
	mu      sync.Mutex
	created []roomfile.CreateParams
}

func (r *fakeRoomFileRepo) Create(_ context.Context, params roomfile.CreateParams) (*roomfile.RoomFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, params)
	return &roomfile.RoomFile{ID: uuid.New(), RoomID: params.RoomID, FilePath: params.FilePath}, nil
}
func (r *fakeRoomFileRepo) GetByPath(context.Context, string) (*roomfile.RoomFile, error) {
	return nil, roomfile.ErrNotFound
}
func (r *fakeRoomFileRepo) ListForRoom(context.Context, uuid.UUID) ([]roomfile.RoomFile, error) {
	return nil, nil
}
func (r *fakeRoomFileRepo) Delete(context.Context, string) error { return nil }
func (r *fakeRoomFileRepo) DeleteOlderThan(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

type fakeAuditRepo struct{}

func (fakeAuditRepo) RecordAccess(context.Context, audit.RecordAccessParams) error { return nil }
func (fakeAuditRepo) RecordAdmin(context.Context, audit.RecordAdminParams) error   { return nil }
func (fakeAuditRepo) AdminLogsForRoom(context.Context, uuid.UUID) ([]audit.AdminAuditLog, error) {
	return nil, nil
}
func (fakeAuditRepo) TrimAccessLogsBefore(context.Context, time.Time) (int64, error) { return 0, nil }
