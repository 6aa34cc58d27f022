package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"roomchat/internal/apperr"
	"roomchat/internal/chat"
)

const (
	profileImageSize = 128
	maxFileNameLen   = 255
	maxExtensionLen  = 10
)

type MessageStore interface {
	GetMessage(ctx context.Context, messageID int64) (*chat.Message, error)
	AppendFiles(ctx context.Context, messageID int64, files []chat.FileInfo) ([]chat.FileInfo, error)
}

type ProfileStore interface {
	SetProfileImage(ctx context.Context, userID int64, image string) (string, error)
}

// Upload is one file received from a client.
type Upload struct {
	Name    string
	Content io.Reader
}

// Service stores uploaded files on disk under random names and records them
// in the database.
type Service struct {
	dir      string
	messages MessageStore
	profiles ProfileStore
	notifier chat.Notifier
	log      *zap.Logger
}

func NewService(dir string, messages MessageStore, profiles ProfileStore, notifier chat.Notifier, log *zap.Logger) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}
	return &Service{
		dir:      dir,
		messages: messages,
		profiles: profiles,
		notifier: notifier,
		log:      log.Named("files"),
	}, nil
}

// AttachFiles stores uploads as attachments of a message userID sent and
// pushes them to the message's room once they are committed.
func (s *Service) AttachFiles(ctx context.Context, userID, messageID int64, uploads []Upload) ([]chat.FileInfo, error) {
	if len(uploads) == 0 {
		return nil, apperr.ErrInvalidFields
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.SentBy(userID) {
		return nil, apperr.ErrForbidden
	}

	infos := make([]chat.FileInfo, 0, len(uploads))
	var written []string
	for _, u := range uploads {
		hash := uuid.NewString() + extension(u.Name)
		if err := s.write(hash, u.Content); err != nil {
			s.remove(written...)
			return nil, err
		}
		written = append(written, hash)
		infos = append(infos, chat.FileInfo{FileHash: hash, FileName: displayName(u.Name)})
	}

	inserted, err := s.messages.AppendFiles(ctx, messageID, infos)
	if err != nil {
		s.remove(written...)
		return nil, err
	}

	s.notifier.BroadcastFiles(ctx, msg.RoomID, inserted)
	return inserted, nil
}

// SetProfileImage crops the upload to a square thumbnail and makes it
// userID's profile image. The previous image file is deleted.
func (s *Service) SetProfileImage(ctx context.Context, userID int64, content io.Reader) (string, error) {
	img, err := imaging.Decode(content, imaging.AutoOrientation(true))
	if err != nil {
		return "", apperr.ErrInvalidFileType
	}

	thumb := imaging.Fill(img, profileImageSize, profileImageSize, imaging.Center, imaging.Lanczos)
	name := uuid.NewString() + ".png"
	if err := imaging.Save(thumb, filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("save profile image: %w", err)
	}

	previous, err := s.profiles.SetProfileImage(ctx, userID, name)
	if err != nil {
		s.remove(name)
		return "", err
	}
	if previous != "" {
		s.remove(previous)
	}
	return name, nil
}

// Path resolves a stored file hash to its location on disk.
func (s *Service) Path(fileHash string) (string, error) {
	if fileHash == "" || strings.ContainsAny(fileHash, `/\`) || strings.Contains(fileHash, "..") {
		return "", apperr.ErrInvalidFileHash
	}

	path := filepath.Join(s.dir, fileHash)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", apperr.ErrInvalidFileHash
	}
	return path, nil
}

func (s *Service) write(hash string, content io.Reader) (err error) {
	f, err := os.OpenFile(filepath.Join(s.dir, hash), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close file: %w", cerr)
		}
	}()

	if _, err := io.Copy(f, content); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func (s *Service) remove(hashes ...string) {
	for _, hash := range hashes {
		if err := os.Remove(filepath.Join(s.dir, hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("could not delete file", zap.String("file", hash), zap.Error(err))
		}
	}
}

// extension keeps a short alphanumeric extension from the client's file
// name so stored files are served with a sensible content type.
func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > maxExtensionLen {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func displayName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	if utf8.RuneCountInString(base) > maxFileNameLen {
		base = string([]rune(base)[:maxFileNameLen])
	}
	return base
}
