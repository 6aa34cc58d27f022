package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/db"
)

type Repository struct {
	q  db.Querier
	db *db.Database // nil when bound to a transaction
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{q: database.Conn, db: database}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if r.db == nil {
		return fn(r)
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&Repository{q: tx})
	})
}

func (r *Repository) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	query := "SELECT EXISTS (SELECT 1 FROM user_rooms WHERE user_id = $1 AND room_id = $2)"
	var ok bool
	if err := r.q.QueryRowContext(ctx, query, userID, roomID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

func (r *Repository) RoomMemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT user_id FROM user_rooms WHERE room_id = $1", roomID)
	if err != nil {
		return nil, fmt.Errorf("list room members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) UserIDByUsername(ctx context.Context, username string) (int64, bool, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, "SELECT id FROM users WHERE username = $1", username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find user: %w", err)
	}
	return id, true, nil
}

func (r *Repository) InsertMessage(ctx context.Context, roomID int64, senderID *int64, text string) (int64, error) {
	query := "INSERT INTO messages (room_id, sender_id, text) VALUES ($1, $2, $3) RETURNING id"
	var id int64
	if err := r.q.QueryRowContext(ctx, query, roomID, senderID, text).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

const messageColumns = `m.id, m.room_id, m.sender_id, m.text, m.created, u.username, u.profile_image`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*Message, error) {
	var (
		msg          Message
		senderID     sql.NullInt64
		created      time.Time
		username     sql.NullString
		profileImage sql.NullString
	)
	if err := s.Scan(&msg.ID, &msg.RoomID, &senderID, &msg.Text, &created, &username, &profileImage); err != nil {
		return nil, err
	}
	if senderID.Valid {
		id := senderID.Int64
		msg.SenderID = &id
	}
	msg.Created = millis(created)
	msg.Username = username.String
	msg.ProfileImage = profileImage.String
	return &msg, nil
}

func (r *Repository) GetMessage(ctx context.Context, messageID int64) (*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1`
	msg, err := scanMessage(r.q.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (r *Repository) ListMessages(ctx context.Context, userID, roomID int64) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		JOIN user_rooms ur ON ur.room_id = m.room_id AND ur.user_id = $1
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = $2
		ORDER BY m.id DESC`
	rows, err := r.q.QueryContext(ctx, query, userID, roomID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func (r *Repository) ListRoomFiles(ctx context.Context, userID, roomID int64) ([]FileInfo, error) {
	query := `
		SELECT f.message_id, f.message_index, f.file_hash, f.file_name
		FROM files f
		JOIN messages m ON m.id = f.message_id
		JOIN user_rooms ur ON ur.room_id = m.room_id AND ur.user_id = $1
		WHERE m.room_id = $2
		ORDER BY f.message_id DESC, f.message_index ASC`
	rows, err := r.q.QueryContext(ctx, query, userID, roomID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []FileInfo
	for rows.Next() {
		var f FileInfo
		if err := rows.Scan(&f.MessageID, &f.MessageIndex, &f.FileHash, &f.FileName); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r *Repository) AppendFiles(ctx context.Context, messageID int64, files []FileInfo) ([]FileInfo, error) {
	var inserted []FileInfo
	err := r.WithTx(ctx, func(tx Store) error {
		q := tx.(*Repository).q

		// Lock the message so concurrent uploads cannot pick the same index.
		var locked int64
		err := q.QueryRowContext(ctx, "SELECT id FROM messages WHERE id = $1 FOR UPDATE", messageID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock message: %w", err)
		}

		var next int
		query := "SELECT COALESCE(MAX(message_index) + 1, 0) FROM files WHERE message_id = $1"
		if err := q.QueryRowContext(ctx, query, messageID).Scan(&next); err != nil {
			return fmt.Errorf("next file index: %w", err)
		}

		inserted = make([]FileInfo, 0, len(files))
		for i, f := range files {
			f.MessageID = messageID
			f.MessageIndex = next + i
			_, err := q.ExecContext(ctx,
				"INSERT INTO files (message_id, message_index, file_hash, file_name) VALUES ($1, $2, $3, $4)",
				f.MessageID, f.MessageIndex, f.FileHash, f.FileName)
			if err != nil {
				return fmt.Errorf("insert file: %w", err)
			}
			inserted = append(inserted, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func (r *Repository) FindDirectRoom(ctx context.Context, userA, userB int64) (int64, bool, error) {
	query := `
		SELECT r.id FROM rooms r
		JOIN user_rooms a ON a.room_id = r.id AND a.user_id = $1
		JOIN user_rooms b ON b.room_id = r.id AND b.user_id = $2
		WHERE r.type = 'direct'
		ORDER BY r.id
		LIMIT 1`
	var id int64
	err := r.q.QueryRowContext(ctx, query, userA, userB).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find direct room: %w", err)
	}
	return id, true, nil
}

func (r *Repository) InsertRoom(ctx context.Context, typ RoomType, name string) (int64, error) {
	query := "INSERT INTO rooms (type, name) VALUES ($1, NULLIF($2, '')) RETURNING id"
	var id int64
	if err := r.q.QueryRowContext(ctx, query, string(typ), name).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert room: %w", err)
	}
	return id, nil
}

func (r *Repository) InsertMembers(ctx context.Context, roomID int64, userIDs ...int64) error {
	for _, userID := range userIDs {
		_, err := r.q.ExecContext(ctx, "INSERT INTO user_rooms (user_id, room_id) VALUES ($1, $2)", userID, roomID)
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	return nil
}

// peerJoin finds the other member of a direct room from the viewer ($1).
const peerJoin = `
	LEFT JOIN LATERAL (
		SELECT u.username, u.profile_image
		FROM user_rooms ur
		JOIN users u ON u.id = ur.user_id
		WHERE ur.room_id = r.id AND ur.user_id <> $1 AND r.type = 'direct'
		LIMIT 1
	) peer ON TRUE`

func (r *Repository) GetRoom(ctx context.Context, viewerID, roomID int64) (*RoomRecord, error) {
	query := `
		SELECT r.id, r.type, r.name, r.cover_image, r.created, peer.username, peer.profile_image
		FROM rooms r` + peerJoin + `
		WHERE r.id = $2`

	var (
		rec                        RoomRecord
		name, cover, peer, peerImg sql.NullString
		created                    time.Time
	)
	err := r.q.QueryRowContext(ctx, query, viewerID, roomID).
		Scan(&rec.ID, &rec.Type, &name, &cover, &created, &peer, &peerImg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	rec.Name, rec.CoverImage = name.String, cover.String
	rec.PeerName, rec.PeerImage = peer.String, peerImg.String
	rec.Created = millis(created)
	return &rec, nil
}

func (r *Repository) ListRooms(ctx context.Context, userID int64) ([]RoomRecord, error) {
	query := `
		SELECT r.id, r.type, r.name, r.cover_image, r.created,
		       peer.username, peer.profile_image,
		       last.id, last.sender_id, last.text, last.created, last.username, last.profile_image
		FROM user_rooms mine
		JOIN rooms r ON r.id = mine.room_id` + peerJoin + `
		LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, m.text, m.created, u.username, u.profile_image
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.room_id = r.id
			ORDER BY m.id DESC
			LIMIT 1
		) last ON TRUE
		WHERE mine.user_id = $1
		ORDER BY last.created DESC NULLS LAST, r.id DESC`
	rows, err := r.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var records []RoomRecord
	for rows.Next() {
		var (
			rec                         RoomRecord
			name, cover, peer, peerImg  sql.NullString
			created                     time.Time
			lastID, lastSender          sql.NullInt64
			lastText, lastUser, lastImg sql.NullString
			lastCreated                 sql.NullTime
		)
		err := rows.Scan(&rec.ID, &rec.Type, &name, &cover, &created, &peer, &peerImg,
			&lastID, &lastSender, &lastText, &lastCreated, &lastUser, &lastImg)
		if err != nil {
			return nil, err
		}
		rec.Name, rec.CoverImage = name.String, cover.String
		rec.PeerName, rec.PeerImage = peer.String, peerImg.String
		rec.Created = millis(created)
		if lastID.Valid {
			last := &Message{
				ID:           lastID.Int64,
				RoomID:       rec.ID,
				Text:         lastText.String,
				Created:      millis(lastCreated.Time),
				Username:     lastUser.String,
				ProfileImage: lastImg.String,
			}
			if lastSender.Valid {
				id := lastSender.Int64
				last.SenderID = &id
			}
			rec.Last = last
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
