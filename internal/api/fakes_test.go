package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/config"
	"github.com/twbeatles/intranet-messenger/internal/gateway"
	"github.com/twbeatles/intranet-messenger/internal/message"
	"github.com/twbeatles/intranet-messenger/internal/pin"
	"github.com/twbeatles/intranet-messenger/internal/poll"
	"github.com/twbeatles/intranet-messenger/internal/presence"
	"github.com/twbeatles/intranet-messenger/internal/ratelimit"
	"github.com/twbeatles/intranet-messenger/internal/reaction"
	"github.com/twbeatles/intranet-messenger/internal/room"
	"github.com/twbeatles/intranet-messenger/internal/roomfile"
	"github.com/twbeatles/intranet-messenger/internal/search"
	"github.com/twbeatles/intranet-messenger/internal/sso"
	"github.com/twbeatles/intranet-messenger/internal/statestore"
	"github.com/twbeatles/intranet-messenger/internal/upload"
)

// fakeRoomRepo is a minimal in-memory room.Repository stub for handler tests.
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

// addRoom seeds a group room with the first member as admin and the rest as regular members.
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
		members[id] = &room.Member{RoomID: roomID, UserID: id, Role: role, JoinedAt: time.Now().Add(time.Duration(i) * time.Second)}
	}
	r.members[roomID] = members
}

func (r *fakeRoomRepo) CreateDirectRoom(_ context.Context, a, b uuid.UUID, key string) (*room.Room, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID, members := range r.members {
		if r.rooms[roomID].Kind != room.KindDirect || len(members) != 2 {
			continue
		}
		if _, okA := members[a]; !okA {
			continue
		}
		if _, okB := members[b]; okB {
			return r.rooms[roomID], false, nil
		}
	}
	rm := &room.Room{ID: uuid.New(), Kind: room.KindDirect, CreatedBy: a, EncryptionKeyWrapped: key, CreatedAt: time.Now()}
	r.rooms[rm.ID] = rm
	r.members[rm.ID] = map[uuid.UUID]*room.Member{
		a: {RoomID: rm.ID, UserID: a, Role: room.RoleAdmin},
		b: {RoomID: rm.ID, UserID: b, Role: room.RoleMember},
	}
	return rm, true, nil
}

func (r *fakeRoomRepo) CreateGroupRoom(_ context.Context, createdBy uuid.UUID, name *string, key string) (*room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := &room.Room{ID: uuid.New(), Name: name, Kind: room.KindGroup, CreatedBy: createdBy, EncryptionKeyWrapped: key, CreatedAt: time.Now()}
	r.rooms[rm.ID] = rm
	r.members[rm.ID] = map[uuid.UUID]*room.Member{
		createdBy: {RoomID: rm.ID, UserID: createdBy, Role: room.RoleAdmin},
	}
	return rm, nil
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

func (r *fakeRoomRepo) Rename(_ context.Context, roomID uuid.UUID, name string) (*room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, room.ErrNotFound
	}
	rm.Name = &name
	return rm, nil
}

func (r *fakeRoomRepo) AddMember(_ context.Context, roomID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.members[roomID]
	if !ok {
		return room.ErrNotFound
	}
	if _, exists := members[userID]; exists {
		return room.ErrAlreadyMember
	}
	members[userID] = &room.Member{RoomID: roomID, UserID: userID, Role: room.RoleMember, JoinedAt: time.Now()}
	return nil
}

func (r *fakeRoomRepo) RemoveMember(_ context.Context, roomID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.members[roomID]
	if _, ok := members[userID]; !ok {
		return room.ErrNotMember
	}
	delete(members, userID)
	for _, m := range members {
		if m.Role == room.RoleAdmin {
			return nil
		}
	}
	for _, m := range members {
		m.Role = room.RoleAdmin
		break
	}
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
	m, ok := r.members[roomID][userID]
	if !ok {
		return room.ErrNotMember
	}
	if isAdmin {
		m.Role = room.RoleAdmin
	} else {
		m.Role = room.RoleMember
	}
	return nil
}

func (r *fakeRoomRepo) SetPinned(_ context.Context, roomID, userID uuid.UUID, pinned bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[roomID][userID]
	if !ok {
		return room.ErrNotMember
	}
	m.Pinned = pinned
	return nil
}

func (r *fakeRoomRepo) SetMuted(_ context.Context, roomID, userID uuid.UUID, muted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[roomID][userID]
	if !ok {
		return room.ErrNotMember
	}
	m.Muted = muted
	return nil
}

func (r *fakeRoomRepo) AdvanceLastRead(_ context.Context, roomID, userID, newID uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[roomID][userID]
	if !ok {
		return uuid.Nil, room.ErrNotMember
	}
	m.LastReadMessageID = &newID
	return newID, nil
}

func (r *fakeRoomRepo) DeleteEmptyRooms(context.Context) (int, error) { return 0, nil }

// fakeMessageRepo is a minimal in-memory message.Repository stub.
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

func (r *fakeMessageRepo) List(_ context.Context, roomID uuid.UUID, _ *uuid.UUID, limit int) ([]message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []message.Message
	for _, m := range r.messages {
		if m.RoomID == roomID {
			out = append(out, *m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
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
	msg.FilePath = nil
	msg.FileName = nil
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

// fakePinRepo is a minimal in-memory pin.Repository stub.
type fakePinRepo struct {
	mu     sync.Mutex
	byRoom map[uuid.UUID][]pin.Pin
}

func newFakePinRepo() *fakePinRepo {
	return &fakePinRepo{byRoom: make(map[uuid.UUID][]pin.Pin)}
}

func (r *fakePinRepo) Create(_ context.Context, params pin.CreateParams) (*pin.Pin, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := pin.Pin{ID: uuid.New(), RoomID: params.RoomID, MessageID: params.MessageID, Content: params.Content, PinnedBy: params.PinnedBy, PinnedAt: time.Now()}
	r.byRoom[params.RoomID] = append(r.byRoom[params.RoomID], p)
	return &p, nil
}

func (r *fakePinRepo) List(_ context.Context, roomID uuid.UUID) ([]pin.Pin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pin.Pin(nil), r.byRoom[roomID]...), nil
}

func (r *fakePinRepo) Delete(_ context.Context, roomID, pinID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pins := r.byRoom[roomID]
	for i, p := range pins {
		if p.ID == pinID {
			r.byRoom[roomID] = append(pins[:i], pins[i+1:]...)
			return nil
		}
	}
	return pin.ErrNotFound
}

func (r *fakePinRepo) Count(_ context.Context, roomID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byRoom[roomID]), nil
}

// fakePollRepo is a minimal in-memory poll.Repository stub with real option-scope and closed-poll checks, so the
// handler tests exercise the same sentinel errors the Postgres repository returns.
type fakePollRepo struct {
	mu      sync.Mutex
	polls   map[uuid.UUID]*poll.Poll
	options map[uuid.UUID][]poll.Option
	votes   map[uuid.UUID]map[uuid.UUID]map[uuid.UUID]bool // pollID -> optionID -> voter set
}

func newFakePollRepo() *fakePollRepo {
	return &fakePollRepo{
		polls:   make(map[uuid.UUID]*poll.Poll),
		options: make(map[uuid.UUID][]poll.Option),
		votes:   make(map[uuid.UUID]map[uuid.UUID]map[uuid.UUID]bool),
	}
}

func (r *fakePollRepo) Create(_ context.Context, params poll.CreateParams) (*poll.Poll, []poll.Option, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &poll.Poll{
		ID:             uuid.New(),
		RoomID:         params.RoomID,
		CreatedBy:      params.CreatedBy,
		Question:       params.Question,
		MultipleChoice: params.MultipleChoice,
		Anonymous:      params.Anonymous,
		EndsAt:         params.EndsAt,
		CreatedAt:      time.Now(),
	}
	options := make([]poll.Option, len(params.Options))
	for i, text := range params.Options {
		options[i] = poll.Option{ID: uuid.New(), PollID: p.ID, OptionText: text}
	}
	r.polls[p.ID] = p
	r.options[p.ID] = options
	r.votes[p.ID] = make(map[uuid.UUID]map[uuid.UUID]bool)
	return p, options, nil
}

func (r *fakePollRepo) GetByID(_ context.Context, id uuid.UUID) (*poll.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.polls[id]
	if !ok {
		return nil, poll.ErrNotFound
	}
	return p, nil
}

func (r *fakePollRepo) Options(_ context.Context, pollID uuid.UUID) ([]poll.Option, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]poll.Option(nil), r.options[pollID]...), nil
}

func (r *fakePollRepo) Results(_ context.Context, pollID uuid.UUID) ([]poll.OptionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []poll.OptionResult
	for _, opt := range r.options[pollID] {
		res := poll.OptionResult{Option: opt}
		for voter := range r.votes[pollID][opt.ID] {
			res.VoteCount++
			res.VoterIDs = append(res.VoterIDs, voter)
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *fakePollRepo) ListForRoom(_ context.Context, roomID uuid.UUID) ([]poll.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []poll.Poll
	for _, p := range r.polls {
		if p.RoomID == roomID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *fakePollRepo) Vote(_ context.Context, pollID, optionID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.polls[pollID]
	if !ok {
		return poll.ErrNotFound
	}
	if p.Closed {
		return poll.ErrClosed
	}
	owns := false
	for _, opt := range r.options[pollID] {
		if opt.ID == optionID {
			owns = true
			break
		}
	}
	if !owns {
		return poll.ErrOptionWrongPoll
	}
	if !p.MultipleChoice {
		for _, voters := range r.votes[pollID] {
			delete(voters, userID)
		}
	}
	if r.votes[pollID][optionID] == nil {
		r.votes[pollID][optionID] = make(map[uuid.UUID]bool)
	}
	r.votes[pollID][optionID][userID] = true
	return nil
}

func (r *fakePollRepo) Close(_ context.Context, pollID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.polls[pollID]
	if !ok {
		return poll.ErrNotFound
	}
	p.Closed = true
	return nil
}

func (r *fakePollRepo) CloseExpired(context.Context) (int, error) { return 0, nil }

// fakeReactionRepo is a minimal in-memory reaction.Repository stub with real toggle semantics.
type fakeReactionRepo struct {
	mu        sync.Mutex
	byMessage map[uuid.UUID]map[string]map[uuid.UUID]bool // messageID -> emoji -> reactor set
}

func newFakeReactionRepo() *fakeReactionRepo {
	return &fakeReactionRepo{byMessage: make(map[uuid.UUID]map[string]map[uuid.UUID]bool)}
}

func (r *fakeReactionRepo) Toggle(_ context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	if err := reaction.ValidateEmoji(emoji); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byMessage[messageID] == nil {
		r.byMessage[messageID] = make(map[string]map[uuid.UUID]bool)
	}
	reactors := r.byMessage[messageID][emoji]
	if reactors != nil && reactors[userID] {
		delete(reactors, userID)
		if len(reactors) == 0 {
			delete(r.byMessage[messageID], emoji)
		}
		return false, nil
	}
	if reactors == nil {
		reactors = make(map[uuid.UUID]bool)
		r.byMessage[messageID][emoji] = reactors
	}
	reactors[userID] = true
	return true, nil
}

func (r *fakeReactionRepo) ForMessage(_ context.Context, messageID uuid.UUID) ([]reaction.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []reaction.Summary
	for emoji, reactors := range r.byMessage[messageID] {
		s := reaction.Summary{Emoji: emoji, Count: len(reactors)}
		for id := range reactors {
			s.UserIDs = append(s.UserIDs, id)
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *fakeReactionRepo) ForMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]reaction.Summary, error) {
	out := make(map[uuid.UUID][]reaction.Summary, len(messageIDs))
	for _, id := range messageIDs {
		summaries, err := r.ForMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(summaries) > 0 {
			out[id] = summaries
		}
	}
	return out, nil
}

// fakeRoomFileRepo is a minimal in-memory roomfile.Repository stub keyed by file path.
type fakeRoomFileRepo struct {
	mu     sync.Mutex
	byPath map[string]*roomfile.RoomFile
}

func newFakeRoomFileRepo() *fakeRoomFileRepo {
	return &fakeRoomFileRepo{byPath: make(map[string]*roomfile.RoomFile)}
}

func (r *fakeRoomFileRepo) Create(_ context.Context, params roomfile.CreateParams) (*roomfile.RoomFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rf := &roomfile.RoomFile{
		ID:         uuid.New(),
		RoomID:     params.RoomID,
		MessageID:  params.MessageID,
		FilePath:   params.FilePath,
		FileName:   params.FileName,
		FileSize:   params.FileSize,
		FileType:   params.FileType,
		UploadedBy: params.UploadedBy,
		UploadedAt: time.Now(),
	}
	r.byPath[params.FilePath] = rf
	return rf, nil
}

func (r *fakeRoomFileRepo) GetByPath(_ context.Context, filePath string) (*roomfile.RoomFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rf, ok := r.byPath[filePath]
	if !ok {
		return nil, roomfile.ErrNotFound
	}
	return rf, nil
}

func (r *fakeRoomFileRepo) ListForRoom(_ context.Context, roomID uuid.UUID) ([]roomfile.RoomFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []roomfile.RoomFile
	for _, rf := range r.byPath {
		if rf.RoomID == roomID {
			out = append(out, *rf)
		}
	}
	return out, nil
}

func (r *fakeRoomFileRepo) Delete(_ context.Context, filePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPath[filePath]; !ok {
		return roomfile.ErrNotFound
	}
	delete(r.byPath, filePath)
	return nil
}

func (r *fakeRoomFileRepo) DeleteOlderThan(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

// fakeSearchRepo is a canned search.Repository stub recording the last query it served.
type fakeSearchRepo struct {
	mu          sync.Mutex
	page        search.Page
	lastFilters search.Filters
}

func (r *fakeSearchRepo) Search(ctx context.Context, userID uuid.UUID, query string, offset, limit int) (search.Page, error) {
	return r.AdvancedSearch(ctx, userID, search.Filters{Query: query}, offset, limit)
}

func (r *fakeSearchRepo) AdvancedSearch(_ context.Context, _ uuid.UUID, filters search.Filters, offset, limit int) (search.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFilters = filters
	page := r.page
	page.Offset = offset
	page.Limit = search.ClampLimit(limit)
	return page, nil
}

// fakeJobRepo is a minimal in-memory upload.JobRepository stub.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*upload.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*upload.Job)}
}

func (r *fakeJobRepo) CreateJob(_ context.Context, params upload.CreateJobParams) (*upload.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := &upload.Job{
		ID:        uuid.New(),
		UserID:    params.UserID,
		RoomID:    params.RoomID,
		TempPath:  params.TempPath,
		FileName:  params.FileName,
		FileType:  params.FileType,
		FileSize:  params.FileSize,
		Status:    upload.JobPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	r.jobs[job.ID] = job
	return job, nil
}

func (r *fakeJobRepo) GetJob(_ context.Context, id uuid.UUID) (*upload.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, upload.ErrJobNotFound
	}
	return job, nil
}

func (r *fakeJobRepo) MarkClean(_ context.Context, id uuid.UUID, finalPath, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return upload.ErrJobNotFound
	}
	job.Status = upload.JobClean
	job.FinalPath = &finalPath
	job.Token = &token
	return nil
}

func (r *fakeJobRepo) MarkInfected(_ context.Context, id uuid.UUID, result string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return upload.ErrJobNotFound
	}
	job.Status = upload.JobInfected
	job.Result = &result
	return nil
}

func (r *fakeJobRepo) MarkError(_ context.Context, id uuid.UUID, result string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return upload.ErrJobNotFound
	}
	job.Status = upload.JobError
	job.Result = &result
	return nil
}

func (r *fakeJobRepo) PendingJobs(context.Context) ([]upload.Job, error) { return nil, nil }

// fakeSSORepo is a minimal in-memory sso.Repository stub.
type fakeSSORepo struct {
	mu    sync.Mutex
	links map[string]uuid.UUID
}

func newFakeSSORepo() *fakeSSORepo {
	return &fakeSSORepo{links: make(map[string]uuid.UUID)}
}

func (r *fakeSSORepo) FindUser(_ context.Context, provider, subject string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.links[provider+"|"+subject]
	if !ok {
		return uuid.Nil, sso.ErrNotFound
	}
	return id, nil
}

func (r *fakeSSORepo) Link(_ context.Context, provider, subject string, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[provider+"|"+subject] = userID
	return nil
}

// handlerTestEnv bundles the fakes and the real (clientless) gateway hub the room-scoped handler tests share.
type handlerTestEnv struct {
	cfg       *config.Config
	users     *fakeAuthUserRepo
	rooms     *fakeRoomRepo
	msgs      *fakeMessageRepo
	pins      *fakePinRepo
	polls     *fakePollRepo
	reactions *fakeReactionRepo
	files     *fakeRoomFileRepo
	jobs      *fakeJobRepo
	store     *statestore.Store
	hub       *gateway.Hub
}

func newHandlerTestEnv() *handlerTestEnv {
	cfg := testAuthConfig()
	cfg.SocketSendMessagePerMinute = 30
	cfg.SocketPinUpdatedPerMinute = 10
	cfg.GatewayHeartbeatIntervalMS = 25000
	cfg.GatewayPingTimeoutMS = 120000
	cfg.GatewayMaxConnections = 100
	cfg.GatewayReplayBufferSize = 10
	cfg.GatewaySessionTTLSeconds = 300
	cfg.RoomListCacheTTLSeconds = 300

	env := &handlerTestEnv{
		cfg:       cfg,
		users:     newFakeAuthUserRepo(),
		rooms:     newFakeRoomRepo(),
		msgs:      newFakeMessageRepo(),
		pins:      newFakePinRepo(),
		polls:     newFakePollRepo(),
		reactions: newFakeReactionRepo(),
		files:     newFakeRoomFileRepo(),
		jobs:      newFakeJobRepo(),
		store:     statestore.New("", "apitest", zerolog.Nop()),
	}
	env.hub = gateway.NewHub(
		cfg,
		env.store,
		presence.NewStore(env.store),
		ratelimit.New(env.store),
		gateway.NewSessionStore(env.store, 5*time.Minute, 10),
		env.users,
		env.rooms,
		env.msgs,
		env.pins,
		env.polls,
		env.reactions,
		env.files,
		&fakeAuditRepo{},
		zerolog.Nop(),
	)
	return env
}
