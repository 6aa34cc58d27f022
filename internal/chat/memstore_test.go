package chat

import (
	"context"
	"errors"
	"sync"

	"roomchat/internal/apperr"
)

var errStoreDown = errors.New("store unavailable")

type memUser struct {
	name  string
	image string
}

type memMessage struct {
	id       int64
	roomID   int64
	senderID *int64
	text     string
	created  int64
}

type memState struct {
	nextID   int64
	users    map[int64]memUser
	rooms    map[int64]Room
	members  map[int64]map[int64]bool
	messages []memMessage
	files    []FileInfo
}

func (st *memState) clone() *memState {
	c := &memState{
		nextID:   st.nextID,
		users:    make(map[int64]memUser, len(st.users)),
		rooms:    make(map[int64]Room, len(st.rooms)),
		members:  make(map[int64]map[int64]bool, len(st.members)),
		messages: append([]memMessage(nil), st.messages...),
		files:    append([]FileInfo(nil), st.files...),
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.rooms {
		c.rooms[k] = v
	}
	for roomID, set := range st.members {
		c.members[roomID] = make(map[int64]bool, len(set))
		for userID := range set {
			c.members[roomID][userID] = true
		}
	}
	return c
}

// memStore is an in-memory Store. Transactions run against a copy of the
// state that becomes the store state only when fn succeeds.
type memStore struct {
	mu     *sync.Mutex
	st     *memState
	inTx   bool
	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		mu: &sync.Mutex{},
		st: &memState{
			users:   map[int64]memUser{},
			rooms:   map[int64]Room{},
			members: map[int64]map[int64]bool{},
		},
		failOn: map[string]error{},
	}
}

func (s *memStore) fail(op string) error {
	return s.failOn[op]
}

func (s *memStore) newID() int64 {
	s.st.nextID++
	return s.st.nextID
}

func (s *memStore) addUser(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	s.st.users[id] = memUser{name: name, image: name + ".png"}
	return id
}

func (s *memStore) addRoom(typ RoomType, name string, members ...int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	s.st.rooms[id] = Room{ID: id, Type: typ, Name: name, Created: id}
	s.st.members[id] = map[int64]bool{}
	for _, m := range members {
		s.st.members[id][m] = true
	}
	return id
}

func (s *memStore) counts() (rooms, memberships, messages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.st.members {
		memberships += len(set)
	}
	return len(s.st.rooms), memberships, len(s.st.messages)
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := s.fail("WithTx"); err != nil {
		return err
	}

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	tx := &memStore{mu: &sync.Mutex{}, st: snapshot, inTx: true, failOn: s.failOn}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = snapshot
	s.mu.Unlock()
	return nil
}

func (s *memStore) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("IsMember"); err != nil {
		return false, err
	}
	return s.st.members[roomID][userID], nil
}

func (s *memStore) RoomMemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := range s.st.members[roomID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memStore) UserIDByUsername(ctx context.Context, username string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.st.users {
		if u.name == username {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (s *memStore) InsertMessage(ctx context.Context, roomID int64, senderID *int64, text string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertMessage"); err != nil {
		return 0, err
	}
	id := s.newID()
	var sender *int64
	if senderID != nil {
		v := *senderID
		sender = &v
	}
	s.st.messages = append(s.st.messages, memMessage{id: id, roomID: roomID, senderID: sender, text: text, created: 1000 + id})
	return id, nil
}

func (s *memStore) hydrate(m memMessage) Message {
	msg := Message{ID: m.id, RoomID: m.roomID, Text: m.text, Created: m.created}
	if m.senderID != nil {
		id := *m.senderID
		msg.SenderID = &id
		u := s.st.users[id]
		msg.Username, msg.ProfileImage = u.name, u.image
	}
	return msg
}

func (s *memStore) GetMessage(ctx context.Context, messageID int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.st.messages {
		if m.id == messageID {
			msg := s.hydrate(m)
			return &msg, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (s *memStore) ListMessages(ctx context.Context, userID, roomID int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListMessages"); err != nil {
		return nil, err
	}
	messages := []Message{}
	if !s.st.members[roomID][userID] {
		return messages, nil
	}
	for i := len(s.st.messages) - 1; i >= 0; i-- {
		if m := s.st.messages[i]; m.roomID == roomID {
			messages = append(messages, s.hydrate(m))
		}
	}
	return messages, nil
}

func (s *memStore) ListRoomFiles(ctx context.Context, userID, roomID int64) ([]FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListRoomFiles"); err != nil {
		return nil, err
	}
	if !s.st.members[roomID][userID] {
		return nil, nil
	}
	inRoom := map[int64]bool{}
	for _, m := range s.st.messages {
		if m.roomID == roomID {
			inRoom[m.id] = true
		}
	}
	var files []FileInfo
	for _, f := range s.st.files {
		if inRoom[f.MessageID] {
			files = append(files, f)
		}
	}
	return files, nil
}

func (s *memStore) AppendFiles(ctx context.Context, messageID int64, files []FileInfo) ([]FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := 0
	for _, f := range s.st.files {
		if f.MessageID == messageID && f.MessageIndex >= next {
			next = f.MessageIndex + 1
		}
	}
	var inserted []FileInfo
	for i, f := range files {
		f.MessageID = messageID
		f.MessageIndex = next + i
		inserted = append(inserted, f)
	}
	s.st.files = append(s.st.files, inserted...)
	return inserted, nil
}

func (s *memStore) FindDirectRoom(ctx context.Context, userA, userB int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, room := range s.st.rooms {
		if room.Type == DirectRoom && s.st.members[id][userA] && s.st.members[id][userB] {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (s *memStore) InsertRoom(ctx context.Context, typ RoomType, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertRoom"); err != nil {
		return 0, err
	}
	id := s.newID()
	s.st.rooms[id] = Room{ID: id, Type: typ, Name: name, Created: 1000 + id}
	s.st.members[id] = map[int64]bool{}
	return id, nil
}

func (s *memStore) InsertMembers(ctx context.Context, roomID int64, userIDs ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertMembers"); err != nil {
		return err
	}
	for _, id := range userIDs {
		s.st.members[roomID][id] = true
	}
	return nil
}

func (s *memStore) record(viewerID, roomID int64) (RoomRecord, bool) {
	room, ok := s.st.rooms[roomID]
	if !ok {
		return RoomRecord{}, false
	}
	rec := RoomRecord{Room: room}
	if room.Type == DirectRoom {
		for id := range s.st.members[roomID] {
			if id != viewerID {
				rec.PeerName, rec.PeerImage = s.st.users[id].name, s.st.users[id].image
			}
		}
	}
	return rec, true
}

func (s *memStore) GetRoom(ctx context.Context, viewerID, roomID int64) (*RoomRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.record(viewerID, roomID)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &rec, nil
}

func (s *memStore) ListRooms(ctx context.Context, userID int64) ([]RoomRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []RoomRecord
	for roomID, set := range s.st.members {
		if !set[userID] {
			continue
		}
		rec, _ := s.record(userID, roomID)
		for i := len(s.st.messages) - 1; i >= 0; i-- {
			if m := s.st.messages[i]; m.roomID == roomID {
				last := s.hydrate(m)
				rec.Last = &last
				break
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []Message
	files    [][]FileInfo
	changed  []int64
}

func (n *recordingNotifier) BroadcastMessage(ctx context.Context, msg Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) BroadcastFiles(ctx context.Context, roomID int64, files []FileInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.files = append(n.files, files)
}

func (n *recordingNotifier) MembersChanged(ctx context.Context, roomID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, roomID)
}
