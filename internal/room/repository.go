package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/postgres"
)

const roomColumns = `id, name, kind, created_by, encryption_key_wrapped, created_at`

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room
	if err := row.Scan(&r.ID, &r.Name, &r.Kind, &r.CreatedBy, &r.EncryptionKeyWrapped, &r.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan room: %w", err)
	}
	return &r, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed room repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// CreateDirectRoom returns the existing direct room between a and b if one exists (created=false), or creates a new
// one (created=true). The room's creator is always its initial admin; since a direct room has exactly two members,
// the second member is seeded as a regular member.
func (r *PGRepository) CreateDirectRoom(ctx context.Context, a, b uuid.UUID, encryptionKeyWrapped string) (*Room, bool, error) {
	var room *Room
	created := false

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		existing, err := scanRoom(tx.QueryRow(ctx,
			`SELECT `+roomColumns+` FROM rooms rm
			 WHERE rm.kind = 'direct'
			   AND (SELECT count(*) FROM room_members WHERE room_id = rm.id) = 2
			   AND EXISTS (SELECT 1 FROM room_members WHERE room_id = rm.id AND user_id = $1)
			   AND EXISTS (SELECT 1 FROM room_members WHERE room_id = rm.id AND user_id = $2)`,
			a, b))
		if err == nil {
			room = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("query existing direct room: %w", err)
		}

		var id uuid.UUID
		err = tx.QueryRow(ctx,
			`INSERT INTO rooms (kind, created_by, encryption_key_wrapped) VALUES ('direct', $1, $2) RETURNING id`,
			a, encryptionKeyWrapped,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert direct room: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO room_members (room_id, user_id, role) VALUES ($1, $2, 'admin'), ($1, $3, 'member')`,
			id, a, b,
		); err != nil {
			return fmt.Errorf("insert direct room members: %w", err)
		}

		room, err = scanRoom(tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
		if err != nil {
			return fmt.Errorf("reload created direct room: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return room, created, nil
}

// CreateGroupRoom creates a new group room with createdBy as its sole initial member and admin.
func (r *PGRepository) CreateGroupRoom(ctx context.Context, createdBy uuid.UUID, name *string, encryptionKeyWrapped string) (*Room, error) {
	var room *Room
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx,
			`INSERT INTO rooms (name, kind, created_by, encryption_key_wrapped) VALUES ($1, 'group', $2, $3) RETURNING id`,
			name, createdBy, encryptionKeyWrapped,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert group room: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO room_members (room_id, user_id, role) VALUES ($1, $2, 'admin')`, id, createdBy,
		); err != nil {
			return fmt.Errorf("insert group room creator: %w", err)
		}

		room, err = scanRoom(tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create group room: %w", err)
	}
	return room, nil
}

// GetByID returns the room matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	room, err := scanRoom(r.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query room by id: %w", err)
	}
	return room, nil
}

// ListForUser returns every room userID is a member of, most recently created first.
func (r *PGRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]Room, error) {
	rows, err := r.db.Query(ctx,
		`SELECT r.`+roomColumns+` FROM rooms r
		 JOIN room_members rm ON rm.room_id = r.id
		 WHERE rm.user_id = $1
		 ORDER BY r.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query rooms for user: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

// Rename updates a group room's name.
func (r *PGRepository) Rename(ctx context.Context, roomID uuid.UUID, name string) (*Room, error) {
	room, err := scanRoom(r.db.QueryRow(ctx,
		`UPDATE rooms SET name = $2 WHERE id = $1 RETURNING `+roomColumns, roomID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("rename room: %w", err)
	}
	return room, nil
}

// AddMember inserts userID as a regular member of roomID.
func (r *PGRepository) AddMember(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO room_members (room_id, user_id, role) VALUES ($1, $2, 'member')`, roomID, userID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("insert room member: %w", err)
	}
	return nil
}

// RemoveMember removes userID from roomID, promoting an arbitrary remaining member to admin if userID was the last
// admin, atomically with the removal.
func (r *PGRepository) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var wasAdmin bool
		err := tx.QueryRow(ctx,
			`SELECT role = 'admin' FROM room_members WHERE room_id = $1 AND user_id = $2 FOR UPDATE`,
			roomID, userID,
		).Scan(&wasAdmin)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotMember
			}
			return fmt.Errorf("lock room member: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID,
		); err != nil {
			return fmt.Errorf("delete room member: %w", err)
		}

		if !wasAdmin {
			return nil
		}

		var remainingAdmins int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM room_members WHERE room_id = $1 AND role = 'admin'`, roomID,
		).Scan(&remainingAdmins); err != nil {
			return fmt.Errorf("count remaining admins: %w", err)
		}
		if remainingAdmins > 0 {
			return nil
		}

		// The departing member was the last admin. Promote an arbitrary remaining member so the room keeps at least
		// one admin while it has at least one member.
		tag, err := tx.Exec(ctx,
			`UPDATE room_members SET role = 'admin'
			 WHERE (room_id, user_id) = (
			   SELECT room_id, user_id FROM room_members WHERE room_id = $1 ORDER BY joined_at LIMIT 1
			 )`, roomID)
		if err != nil {
			return fmt.Errorf("promote replacement admin: %w", err)
		}
		_ = tag // zero rows affected means the room is now empty, which is fine: no members left to promote.
		return nil
	})
}

// IsMember reports whether userID belongs to roomID.
func (r *PGRepository) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`, roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check room membership: %w", err)
	}
	return exists, nil
}

// IsAdmin reports whether userID is an admin of roomID.
func (r *PGRepository) IsAdmin(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var role Role
	err := r.db.QueryRow(ctx,
		`SELECT role FROM room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check room admin: %w", err)
	}
	return role == RoleAdmin, nil
}

const memberColumns = `rm.room_id, rm.user_id, rm.joined_at, rm.last_read_message_id, rm.pinned, rm.muted, rm.role,
	u.username, u.nickname, u.profile_image`

func scanMemberWithProfile(row pgx.Row) (*MemberWithProfile, error) {
	var m MemberWithProfile
	err := row.Scan(
		&m.RoomID, &m.UserID, &m.JoinedAt, &m.LastReadMessageID, &m.Pinned, &m.Muted, &m.Role,
		&m.Username, &m.Nickname, &m.ProfileImage,
	)
	if err != nil {
		return nil, fmt.Errorf("scan room member: %w", err)
	}
	return &m, nil
}

// Members returns every member of roomID joined with their public profile fields, ordered by join time.
func (r *PGRepository) Members(ctx context.Context, roomID uuid.UUID) ([]MemberWithProfile, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+memberColumns+` FROM room_members rm
		 JOIN users u ON u.id = rm.user_id
		 WHERE rm.room_id = $1
		 ORDER BY rm.joined_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query room members: %w", err)
	}
	defer rows.Close()

	var members []MemberWithProfile
	for rows.Next() {
		m, err := scanMemberWithProfile(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// Admins returns every admin member of roomID.
func (r *PGRepository) Admins(ctx context.Context, roomID uuid.UUID) ([]MemberWithProfile, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+memberColumns+` FROM room_members rm
		 JOIN users u ON u.id = rm.user_id
		 WHERE rm.room_id = $1 AND rm.role = 'admin'
		 ORDER BY rm.joined_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query room admins: %w", err)
	}
	defer rows.Close()

	var members []MemberWithProfile
	for rows.Next() {
		m, err := scanMemberWithProfile(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// SetAdmin sets or clears userID's admin role in roomID. Callers enforce the admin invariant separately (via
// RemoveMember's promotion logic); this method is a direct toggle used by the admin-management endpoint, which
// already requires the room to have another admin before demoting the last one.
func (r *PGRepository) SetAdmin(ctx context.Context, roomID, userID uuid.UUID, isAdmin bool) error {
	role := RoleMember
	if isAdmin {
		role = RoleAdmin
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE room_members SET role = $3 WHERE room_id = $1 AND user_id = $2`, roomID, userID, role)
	if err != nil {
		return fmt.Errorf("set room admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

// SetPinned toggles a room's pinned flag for a given member (pinned-to-top-of-list, not PinnedMessage).
func (r *PGRepository) SetPinned(ctx context.Context, roomID, userID uuid.UUID, pinned bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE room_members SET pinned = $3 WHERE room_id = $1 AND user_id = $2`, roomID, userID, pinned)
	if err != nil {
		return fmt.Errorf("set room pinned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

// SetMuted toggles a room's muted flag for a given member.
func (r *PGRepository) SetMuted(ctx context.Context, roomID, userID uuid.UUID, muted bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE room_members SET muted = $3 WHERE room_id = $1 AND user_id = $2`, roomID, userID, muted)
	if err != nil {
		return fmt.Errorf("set room muted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

// AdvanceLastRead sets last_read_message_id to newID if it is further along than the currently stored value (by
// message id ordering, which is monotonic with creation time for UUIDv7-style or sequence-backed IDs). Never
// regresses, per the read-cursor monotonicity invariant.
func (r *PGRepository) AdvanceLastRead(ctx context.Context, roomID, userID, newID uuid.UUID) (uuid.UUID, error) {
	var result uuid.UUID
	err := r.db.QueryRow(ctx,
		`UPDATE room_members
		 SET last_read_message_id = $3
		 WHERE room_id = $1 AND user_id = $2
		   AND (last_read_message_id IS NULL OR $3 > last_read_message_id)
		 RETURNING last_read_message_id`,
		roomID, userID, newID,
	).Scan(&result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either not a member, or the cursor was already at or past newID; disambiguate by re-reading.
			var current *uuid.UUID
			lookupErr := r.db.QueryRow(ctx,
				`SELECT last_read_message_id FROM room_members WHERE room_id = $1 AND user_id = $2`,
				roomID, userID,
			).Scan(&current)
			if lookupErr != nil {
				if errors.Is(lookupErr, pgx.ErrNoRows) {
					return uuid.Nil, ErrNotMember
				}
				return uuid.Nil, fmt.Errorf("lookup last read message id: %w", lookupErr)
			}
			if current == nil {
				return uuid.Nil, fmt.Errorf("advance last read: unexpected nil cursor")
			}
			return *current, nil
		}
		return uuid.Nil, fmt.Errorf("advance last read message id: %w", err)
	}
	return result, nil
}

// DeleteEmptyRooms removes every room with zero remaining members and reports how many were deleted.
func (r *PGRepository) DeleteEmptyRooms(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM rooms WHERE id NOT IN (SELECT DISTINCT room_id FROM room_members)`)
	if err != nil {
		return 0, fmt.Errorf("delete empty rooms: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
