package chat

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"roomchat/internal/apperr"
)

const (
	minGroupName = 4
	maxGroupName = 255

	directCreatedText = "Chat has been created"
	groupCreatedText  = "Group has been created"
	memberJoinedText  = " has joined the group"
)

type RoomService struct {
	store    Store
	messages *MessageService
	notifier Notifier
	log      *zap.Logger
}

func NewRoomService(store Store, messages *MessageService, notifier Notifier, log *zap.Logger) *RoomService {
	return &RoomService{
		store:    store,
		messages: messages,
		notifier: notifier,
		log:      log.Named("rooms"),
	}
}

// CreateDirectRoom returns the direct room shared by fromUserID and
// toUsername, creating it first when it does not exist yet. The room is
// named after the other member.
func (s *RoomService) CreateDirectRoom(ctx context.Context, fromUserID int64, toUsername string) (Room, error) {
	toUserID, ok, err := s.store.UserIDByUsername(ctx, toUsername)
	if err != nil {
		return Room{}, err
	}
	if !ok {
		return Room{}, apperr.ErrUserDoesNotExist
	}
	if toUserID == fromUserID {
		return Room{}, apperr.ErrSelfChatNotSupported
	}

	roomID, found, err := s.store.FindDirectRoom(ctx, fromUserID, toUserID)
	if err != nil {
		return Room{}, err
	}
	if found {
		return s.roomFor(ctx, fromUserID, roomID)
	}

	// Two concurrent first requests can both miss the lookup above and
	// create two rooms; there is no unique constraint on user pairs.
	var messageID int64
	err = s.store.WithTx(ctx, func(tx Store) error {
		var err error
		if roomID, err = tx.InsertRoom(ctx, DirectRoom, ""); err != nil {
			return err
		}
		if err := tx.InsertMembers(ctx, roomID, fromUserID, toUserID); err != nil {
			return err
		}
		messageID, err = tx.InsertMessage(ctx, roomID, nil, directCreatedText)
		return err
	})
	if err != nil {
		return Room{}, err
	}

	s.log.Info("direct room created", zap.Int64("room_id", roomID), zap.Int64("user_id", fromUserID))
	s.announce(ctx, messageID)
	return s.roomFor(ctx, fromUserID, roomID)
}

func (s *RoomService) CreateGroupRoom(ctx context.Context, userID int64, groupName string) (Room, error) {
	name := strings.TrimSpace(groupName)
	if n := utf8.RuneCountInString(name); n < minGroupName || n > maxGroupName {
		return Room{}, apperr.ErrInvalidFields
	}

	var roomID, messageID int64
	err := s.store.WithTx(ctx, func(tx Store) error {
		var err error
		if roomID, err = tx.InsertRoom(ctx, GroupRoom, name); err != nil {
			return err
		}
		if err := tx.InsertMembers(ctx, roomID, userID); err != nil {
			return err
		}
		messageID, err = tx.InsertMessage(ctx, roomID, nil, groupCreatedText)
		return err
	})
	if err != nil {
		return Room{}, err
	}

	s.log.Info("group room created", zap.Int64("room_id", roomID), zap.Int64("user_id", userID))
	s.announce(ctx, messageID)
	return s.roomFor(ctx, userID, roomID)
}

// InviteToGroup adds username to a group room userID belongs to and
// announces it to every member, the new one included.
func (s *RoomService) InviteToGroup(ctx context.Context, userID, roomID int64, username string) (Room, error) {
	room, err := s.GetRoom(ctx, userID, roomID)
	if err != nil {
		return Room{}, err
	}
	if room.Type != GroupRoom {
		return Room{}, apperr.ErrForbidden
	}

	inviteeID, ok, err := s.store.UserIDByUsername(ctx, username)
	if err != nil {
		return Room{}, err
	}
	if !ok {
		return Room{}, apperr.ErrUserDoesNotExist
	}

	var messageID int64
	err = s.store.WithTx(ctx, func(tx Store) error {
		member, err := tx.IsMember(ctx, inviteeID, roomID)
		if err != nil {
			return err
		}
		if member {
			return apperr.ErrIsAlreadyMember
		}
		if err := tx.InsertMembers(ctx, roomID, inviteeID); err != nil {
			return err
		}
		messageID, err = tx.InsertMessage(ctx, roomID, nil, username+memberJoinedText)
		return err
	})
	if err != nil {
		return Room{}, err
	}

	s.notifier.MembersChanged(ctx, roomID)
	s.announce(ctx, messageID)
	return room, nil
}

// GetRoom returns a room userID belongs to, shaped for that user.
func (s *RoomService) GetRoom(ctx context.Context, userID, roomID int64) (Room, error) {
	ok, err := s.store.IsMember(ctx, userID, roomID)
	if err != nil {
		return Room{}, err
	}
	if !ok {
		return Room{}, apperr.ErrForbidden
	}
	return s.roomFor(ctx, userID, roomID)
}

// ListRooms returns every room of userID, most recently active first.
func (s *RoomService) ListRooms(ctx context.Context, userID int64) ([]RoomPreview, error) {
	records, err := s.store.ListRooms(ctx, userID)
	if err != nil {
		return nil, err
	}

	previews := make([]RoomPreview, 0, len(records))
	for _, rec := range records {
		preview := RoomPreview{Room: rec.view()}
		if rec.Last != nil {
			last := rec.Last.ViewFor(userID)
			preview.LastMessage = &last
		}
		previews = append(previews, preview)
	}

	sort.SliceStable(previews, func(i, j int) bool {
		return lastActivity(previews[i]) > lastActivity(previews[j])
	})
	return previews, nil
}

func lastActivity(p RoomPreview) int64 {
	if p.LastMessage != nil {
		return p.LastMessage.Created
	}
	return p.Created
}

func (s *RoomService) roomFor(ctx context.Context, viewerID, roomID int64) (Room, error) {
	rec, err := s.store.GetRoom(ctx, viewerID, roomID)
	if err != nil {
		return Room{}, err
	}
	return rec.view(), nil
}

// announce pushes a committed system message. A failed read only costs the
// live notification; the room itself already exists.
func (s *RoomService) announce(ctx context.Context, messageID int64) {
	msg, err := s.messages.SystemMessage(ctx, messageID)
	if err != nil {
		s.log.Error("load system message", zap.Int64("message_id", messageID), zap.Error(err))
		return
	}
	s.notifier.BroadcastMessage(ctx, msg)
}
