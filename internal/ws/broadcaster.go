package ws

import (
	"context"

	"go.uber.org/zap"

	"roomchat/internal/chat"
)

// MemberSource lists the users of a room.
type MemberSource interface {
	RoomMemberIDs(ctx context.Context, roomID int64) ([]int64, error)
}

// forgetter is implemented by caching member sources.
type forgetter interface {
	Forget(ctx context.Context, roomID int64)
}

// Broadcaster fans room events out to the members currently connected to
// this process. It implements chat.Notifier.
type Broadcaster struct {
	registry *Registry
	members  MemberSource
	log      *zap.Logger
}

func NewBroadcaster(registry *Registry, members MemberSource, log *zap.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, members: members, log: log.Named("broadcast")}
}

var _ chat.Notifier = (*Broadcaster)(nil)

// BroadcastMessage delivers msg to every connected member of its room. The
// sender's copy has fromSelf set and keeps the tempId; the others do not.
func (b *Broadcaster) BroadcastMessage(ctx context.Context, msg chat.Message) {
	ids, err := b.members.RoomMemberIDs(ctx, msg.RoomID)
	if err != nil {
		b.log.Error("list room members", zap.Int64("room_id", msg.RoomID), zap.Error(err))
		return
	}

	others, err := encode(TypeMessage, msg.Shared())
	if err != nil {
		b.log.Error("encode message", zap.Int64("message_id", msg.ID), zap.Error(err))
		return
	}

	var own []byte
	if msg.SenderID != nil {
		if own, err = encode(TypeMessage, msg.ViewFor(*msg.SenderID)); err != nil {
			b.log.Error("encode message", zap.Int64("message_id", msg.ID), zap.Error(err))
			return
		}
	}

	delivered := 0
	for _, userID := range ids {
		payload := others
		if msg.SentBy(userID) {
			payload = own
		}
		if b.registry.Dispatch(userID, payload) {
			delivered++
		}
	}
	b.log.Debug("message broadcast",
		zap.Int64("room_id", msg.RoomID),
		zap.Int64("message_id", msg.ID),
		zap.Int("members", len(ids)),
		zap.Int("delivered", delivered))
}

// BroadcastFiles tells every connected member of roomID that files were
// attached to a message.
func (b *Broadcaster) BroadcastFiles(ctx context.Context, roomID int64, files []chat.FileInfo) {
	ids, err := b.members.RoomMemberIDs(ctx, roomID)
	if err != nil {
		b.log.Error("list room members", zap.Int64("room_id", roomID), zap.Error(err))
		return
	}

	payload, err := encode(TypeFiles, files)
	if err != nil {
		b.log.Error("encode files", zap.Int64("room_id", roomID), zap.Error(err))
		return
	}

	for _, userID := range ids {
		b.registry.Dispatch(userID, payload)
	}
}

func (b *Broadcaster) MembersChanged(ctx context.Context, roomID int64) {
	if f, ok := b.members.(forgetter); ok {
		f.Forget(ctx, roomID)
	}
}
