package chat

import "context"

// Store is the durable side of rooms and messages. Read methods return
// apperr.ErrNotFound for missing rows.
type Store interface {
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)
	RoomMemberIDs(ctx context.Context, roomID int64) ([]int64, error)
	UserIDByUsername(ctx context.Context, username string) (int64, bool, error)

	InsertMessage(ctx context.Context, roomID int64, senderID *int64, text string) (int64, error)
	GetMessage(ctx context.Context, messageID int64) (*Message, error)
	// ListMessages returns the room's messages newest first, or nothing when
	// userID is not a member.
	ListMessages(ctx context.Context, userID, roomID int64) ([]Message, error)
	// ListRoomFiles follows the same membership rule as ListMessages.
	ListRoomFiles(ctx context.Context, userID, roomID int64) ([]FileInfo, error)
	// AppendFiles numbers files after the message's existing attachments and
	// stores them atomically.
	AppendFiles(ctx context.Context, messageID int64, files []FileInfo) ([]FileInfo, error)

	FindDirectRoom(ctx context.Context, userA, userB int64) (int64, bool, error)
	InsertRoom(ctx context.Context, typ RoomType, name string) (int64, error)
	InsertMembers(ctx context.Context, roomID int64, userIDs ...int64) error
	GetRoom(ctx context.Context, viewerID, roomID int64) (*RoomRecord, error)
	ListRooms(ctx context.Context, userID int64) ([]RoomRecord, error)

	// WithTx runs fn against a Store bound to one transaction. Nested calls
	// join the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// Notifier pushes live updates to connected room members.
type Notifier interface {
	BroadcastMessage(ctx context.Context, msg Message)
	BroadcastFiles(ctx context.Context, roomID int64, files []FileInfo)
	MembersChanged(ctx context.Context, roomID int64)
}
