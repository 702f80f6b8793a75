// Package auth 实现本地账户的注册、登录与资料维护。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/echosketch/backend/internal/config"
	"github.com/zhouzirui/echosketch/backend/internal/model/user"
	"github.com/zhouzirui/echosketch/backend/internal/storage/kv"
)

var (
	ErrAccountExists      = errors.New("An account with this email already exists.")
	ErrInvalidCredentials = errors.New("Invalid email or password.")
	ErrWeakPassword       = errors.New("Password is too short.")
	ErrEmailRequired      = errors.New("Email is required.")
	ErrUnauthenticated    = errors.New("No user is currently signed in.")
	ErrEmptyName          = errors.New("Username cannot be empty.")
	ErrEmailInUse         = errors.New("Email already in use.")
	ErrPasswordTooLong    = errors.New("Password is too long.")
)

// bcrypt 只接受不超过 72 字节的密码
const maxPasswordBytes = 72

// Service is the credential store plus the bearer-token table.
type Service struct {
	mu       sync.Mutex
	store    kv.Store
	cfg      config.AuthConfig
	accounts []user.Account
	tokens   map[string]user.Token
	now      func() time.Time
}

// NewService 从存储加载用户表与令牌表；缺失或损坏时视为空。
func NewService(ctx context.Context, store kv.Store, cfg config.AuthConfig) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 6
	}

	var accounts []user.Account
	kv.LoadJSON(ctx, store, kv.KeyUsers, &accounts)

	var tokenList []user.Token
	kv.LoadJSON(ctx, store, kv.KeyTokens, &tokenList)

	tokens := make(map[string]user.Token, len(tokenList))
	for _, token := range tokenList {
		tokens[token.Value] = token
	}

	return &Service{
		store:    store,
		cfg:      cfg,
		accounts: accounts,
		tokens:   tokens,
		now:      time.Now,
	}
}

// SignUp 注册新账户并立即登录。失败时用户表保持不变。
func (s *Service) SignUp(ctx context.Context, name, email, password string) (user.User, string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return user.User{}, "", ErrEmailRequired
	}
	if len(password) < s.cfg.MinPasswordLength {
		return user.User{}, "", fmt.Errorf("%w Use at least %d characters.", ErrWeakPassword, s.cfg.MinPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return user.User{}, "", fmt.Errorf("%w Use at most %d bytes.", ErrPasswordTooLong, maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return user.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findByEmail(email) >= 0 {
		return user.User{}, "", ErrAccountExists
	}

	now := s.now()
	account := user.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	previous := s.accounts
	updated := make([]user.Account, 0, len(previous)+1)
	updated = append(updated, previous...)
	updated = append(updated, account)
	if err := kv.SaveJSON(ctx, s.store, kv.KeyUsers, updated); err != nil {
		return user.User{}, "", fmt.Errorf("persist users: %w", err)
	}
	s.accounts = updated

	token, err := s.issueTokenLocked(ctx, account.ID)
	if err != nil {
		// 令牌写入失败时撤销注册，用户表恢复原状
		s.accounts = previous
		if rollbackErr := kv.SaveJSON(context.WithoutCancel(ctx), s.store, kv.KeyUsers, previous); rollbackErr != nil {
			log.Printf("[auth] 回滚用户表失败: %v", rollbackErr)
		}
		return user.User{}, "", err
	}

	log.Printf("[auth] 新用户注册 id=%s", account.ID)
	return account.Public(), token, nil
}

// SignIn checks the credentials and issues a new token.
func (s *Service) SignIn(ctx context.Context, email, password string) (user.User, string, error) {
	email = normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findByEmail(email)
	if idx < 0 {
		return user.User{}, "", ErrInvalidCredentials
	}
	account := s.accounts[idx]

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return user.User{}, "", ErrInvalidCredentials
	}

	token, err := s.issueTokenLocked(ctx, account.ID)
	if err != nil {
		return user.User{}, "", err
	}
	return account.Public(), token, nil
}

// SignOut 删除令牌；令牌不存在时视为已登出。
func (s *Service) SignOut(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token]; !ok {
		return nil
	}
	delete(s.tokens, token)
	return s.persistTokensLocked(ctx)
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(_ context.Context, token string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountForTokenLocked(token)
	if !ok {
		return user.User{}, ErrUnauthenticated
	}
	return account.Public(), nil
}

// UpdateProfile 更新当前用户的名称、邮箱与头像。
func (s *Service) UpdateProfile(ctx context.Context, token, name, email, picture string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accountForTokenLocked(token)
	if !ok {
		return user.User{}, ErrUnauthenticated
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return user.User{}, ErrEmptyName
	}

	email = normalizeEmail(email)
	if email == "" {
		return user.User{}, ErrEmailRequired
	}
	if email != current.Email {
		if idx := s.findByEmail(email); idx >= 0 && s.accounts[idx].ID != current.ID {
			return user.User{}, ErrEmailInUse
		}
	}

	updated := make([]user.Account, len(s.accounts))
	copy(updated, s.accounts)

	var result user.Account
	for i := range updated {
		if updated[i].ID == current.ID {
			updated[i].Name = name
			updated[i].Email = email
			updated[i].ProfilePicture = picture
			updated[i].UpdatedAt = s.now()
			result = updated[i]
		}
	}

	if err := kv.SaveJSON(ctx, s.store, kv.KeyUsers, updated); err != nil {
		return user.User{}, fmt.Errorf("persist users: %w", err)
	}
	s.accounts = updated

	return result.Public(), nil
}

// Count returns the number of registered accounts.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

func (s *Service) issueTokenLocked(ctx context.Context, userID string) (string, error) {
	token := user.Token{Value: uuid.NewString(), UserID: userID, IssuedAt: s.now()}
	s.tokens[token.Value] = token

	if err := s.persistTokensLocked(ctx); err != nil {
		delete(s.tokens, token.Value)
		return "", err
	}
	return token.Value, nil
}

func (s *Service) persistTokensLocked(ctx context.Context) error {
	list := make([]user.Token, 0, len(s.tokens))
	for _, token := range s.tokens {
		list = append(list, token)
	}
	if err := kv.SaveJSON(ctx, s.store, kv.KeyTokens, list); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	return nil
}

func (s *Service) accountForTokenLocked(token string) (user.Account, bool) {
	if token == "" {
		return user.Account{}, false
	}
	entry, ok := s.tokens[token]
	if !ok {
		return user.Account{}, false
	}
	for _, account := range s.accounts {
		if account.ID == entry.UserID {
			return account, true
		}
	}
	return user.Account{}, false
}

func (s *Service) findByEmail(email string) int {
	for i, account := range s.accounts {
		if account.Email == email {
			return i
		}
	}
	return -1
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
