package user

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"roomchat/internal/apperr"
)

const (
	minCredentialLen = 4
	maxCredentialLen = 255
	tokenIssuer      = "roomchat"
)

type Service struct {
	repo      Store
	jwtSecret string
	tokenTTL  time.Duration
	cost      int
	log       *zap.Logger
}

type Claims struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo Store, secret string, tokenTTL time.Duration, log *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
		tokenTTL:  tokenTTL,
		cost:      bcrypt.DefaultCost,
		log:       log.Named("users"),
	}
}

func validCredential(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= minCredentialLen && n <= maxCredentialLen
}

func (s *Service) Register(ctx context.Context, req *Credentials) (*AuthResponse, error) {
	if !validCredential(req.Username) || !validCredential(req.Password) {
		return nil, apperr.ErrInvalidCredentialsFormat
	}

	if _, err := s.repo.GetUserByUsername(ctx, req.Username); err == nil {
		return nil, apperr.ErrUserExists
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.repo.CreateUser(ctx, &User{Username: req.Username, Password: string(hashedPwd)})
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.Int64("user_id", u.ID))
	return s.issue(u)
}

func (s *Service) Login(ctx context.Context, req *Credentials) (*AuthResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, apperr.ErrInvalidCredentials
	}
	return s.issue(u)
}

func (s *Service) issue(u *User) (*AuthResponse, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:       u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
		},
	})

	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &AuthResponse{ID: u.ID, Username: u.Username, Token: ss}, nil
}

func (s *Service) ValidateToken(tokenString string) (int64, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return 0, "", err
	}
	if !token.Valid {
		return 0, "", errors.New("invalid token")
	}

	return claims.ID, claims.Username, nil
}

func (s *Service) Me(ctx context.Context, userID int64) (*User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

func (s *Service) ChangePassword(ctx context.Context, userID int64, req *PasswordChange) error {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.OldPassword)); err != nil {
		return apperr.ErrInvalidCredentials
	}
	if req.OldPassword == req.NewPassword {
		return apperr.ErrNewPasswordRepeated
	}
	if !validCredential(req.NewPassword) {
		return apperr.ErrInvalidCredentialsFormat
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.UpdatePassword(ctx, userID, string(hashedPwd))
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	return s.repo.SearchUsers(ctx, query)
}
