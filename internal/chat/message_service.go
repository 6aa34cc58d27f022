package chat

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"roomchat/internal/apperr"
)

type MessageService struct {
	store Store
	log   *zap.Logger
}

func NewMessageService(store Store, log *zap.Logger) *MessageService {
	return &MessageService{store: store, log: log.Named("messages")}
}

// AddMessage stores a message from userID and returns it hydrated from the
// sender's point of view, TempID included. The membership check, the insert
// and the read-back share one transaction.
func (s *MessageService) AddMessage(ctx context.Context, userID int64, pending PendingMessage) (Message, error) {
	var msg Message
	err := s.store.WithTx(ctx, func(tx Store) error {
		ok, err := tx.IsMember(ctx, userID, pending.RoomID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrForbidden
		}

		id, err := tx.InsertMessage(ctx, pending.RoomID, &userID, pending.Text)
		if err != nil {
			return err
		}

		stored, err := tx.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		msg = *stored
		return nil
	})
	if err != nil {
		return Message{}, err
	}

	msg.TempID = pending.TempID
	msg.FromSelf = true
	return msg, nil
}

// SystemMessage loads a server-authored message. Nobody owns it, so FromSelf
// is always false.
func (s *MessageService) SystemMessage(ctx context.Context, messageID int64) (Message, error) {
	stored, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	return stored.Shared(), nil
}

// ListMessages returns the room's messages newest first with their
// attachments. Rooms userID does not belong to come back empty.
func (s *MessageService) ListMessages(ctx context.Context, userID, roomID int64) ([]Message, error) {
	var (
		messages []Message
		files    []FileInfo
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		messages, err = s.store.ListMessages(gctx, userID, roomID)
		return err
	})
	g.Go(func() error {
		var err error
		files, err = s.store.ListRoomFiles(gctx, userID, roomID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range messages {
		messages[i] = messages[i].ViewFor(userID)
	}
	attachFiles(messages, files)
	return messages, nil
}

// attachFiles joins files onto their messages through a message id index.
// Each message's files end up ordered by MessageIndex.
func attachFiles(messages []Message, files []FileInfo) {
	if len(files) == 0 {
		return
	}

	byMessage := make(map[int64][]FileInfo, len(messages))
	for _, f := range files {
		byMessage[f.MessageID] = append(byMessage[f.MessageID], f)
	}

	for i := range messages {
		attached, ok := byMessage[messages[i].ID]
		if !ok {
			continue
		}
		sort.SliceStable(attached, func(a, b int) bool {
			return attached[a].MessageIndex < attached[b].MessageIndex
		})
		messages[i].Files = attached
	}
}
