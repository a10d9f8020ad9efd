package main

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service is the membership and lifecycle engine. Every exported method is one transaction:
// permission gate, invariant checks, writes and notifications commit or roll back together.
type Service struct {
	store   txRunner
	mail    Mailer
	baseURL string
	now     func() time.Time
}

func NewService(store txRunner, mailer Mailer, baseURL string) *Service {
	return &Service{store: store, mail: mailer, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

func (s *Service) today() Date { return DateOf(s.now()) }

// notify delivers synchronously. A failure is returned so the caller's transaction rolls back.
func (s *Service) notify(ctx context.Context, to User, subject, body string) error {
	if err := s.mail.Send(ctx, Message{To: to.Email, Subject: subject, Body: body}); err != nil {
		return &MailError{To: to.Email, Err: err}
	}
	return nil
}

type SignupInput struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password1 string `json:"password1"`
	Password2 string `json:"password2"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Signup creates an inactive user and mails the verification link.
func (s *Service) Signup(ctx context.Context, in SignupInput) (User, error) {
	u := User{
		Username:  strings.TrimSpace(in.Username),
		Email:     strings.TrimSpace(in.Email),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
	}
	if u.Username == "" || len(u.Username) > 30 {
		return User{}, invalid("username", "username is required (max 30 characters)")
	}
	if addr, err := mail.ParseAddress(u.Email); err != nil || addr.Address != u.Email || len(u.Email) > 100 {
		return User{}, invalid("email", "enter a valid email address")
	}
	if in.Password1 != in.Password2 {
		return User{}, invalid("password2", "password does not match")
	}
	if err := validatePassword(in.Password1, u.Username); err != nil {
		return User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password1), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	token := uuid.NewString()

	err = s.store.InTx(ctx, func(r repo) error {
		byName, byEmail, err := r.userTaken(ctx, u.Username, u.Email)
		if err != nil {
			return err
		}
		if byName {
			return invalid("username", "a user with that username already exists")
		}
		if byEmail {
			return invalid("email", "a user with that email already exists")
		}
		if err := r.insertUser(ctx, &u, string(hash), token); err != nil {
			return err
		}
		link := fmt.Sprintf("%s/api/auth/verify/%d/%s", s.baseURL, u.ID, token)
		body := fmt.Sprintf("Hi %s,\n\nPlease confirm your email address to activate your account:\n\n[Activate account](%s)\n", u.Username, link)
		return s.notify(ctx, u, "Activate your account", body)
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func validatePassword(pw, username string) error {
	if len(pw) < 8 {
		return invalid("password1", "this password is too short, it must contain at least 8 characters")
	}
	allDigits := true
	for _, c := range pw {
		if !unicode.IsDigit(c) {
			allDigits = false
			break
		}
	}
	if allDigits {
		return invalid("password1", "this password is entirely numeric")
	}
	if username != "" && strings.Contains(strings.ToLower(pw), strings.ToLower(username)) {
		return invalid("password1", "the password is too similar to the username")
	}
	return nil
}

// Verify activates the user when token matches the one issued at signup. Tokens are single use.
func (s *Service) Verify(ctx context.Context, userID int64, token string) (User, error) {
	var u User
	err := s.store.InTx(ctx, func(r repo) error {
		var err error
		u, err = r.activateUser(ctx, userID, token)
		if errors.Is(err, ErrNotFound) {
			return invalid("token", "activation link is invalid")
		}
		return err
	})
	return u, err
}
