// Package verify grants the verified privilege to participants whose
// community account has enough karma.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/unicode/norm"

	"taskline/internal/domain"
	"taskline/internal/reputation"
	"taskline/internal/sink"
)

const (
	DefaultMinKarma  = 500
	DefaultPrivilege = "VERIFIED"
)

var (
	ErrInvalidUsername = errors.New("please provide a valid username")
	ErrUserNotFound    = errors.New("user not found")
)

var printer = message.NewPrinter(language.English)

// NormalizeUsername strips u/ prefixes and NFC-normalises the name.
func NormalizeUsername(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.TrimPrefix(name, "/")
	for _, p := range []string{"u/", "U/"} {
		name = strings.TrimPrefix(name, p)
	}
	return norm.NFC.String(strings.TrimSpace(name))
}

type Service struct {
	Lookup    reputation.Lookup
	Sink      sink.Sink
	Privilege string
	MinKarma  int
	Logger    *log.Logger
}

func (s *Service) logger() *log.Logger {
	if s.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return s.Logger
}

func (s *Service) privilege() string {
	if s.Privilege == "" {
		return DefaultPrivilege
	}
	return s.Privilege
}

func (s *Service) minKarma() int {
	if s.MinKarma <= 0 {
		return DefaultMinKarma
	}
	return s.MinKarma
}

func (s *Service) postLog(ctx context.Context, format string, args ...any) {
	text := printer.Sprintf(format, args...)
	s.logger().Print(text)
	if err := s.Sink.PostLog(ctx, text); err != nil {
		s.logger().Printf("log channel: %v", err)
	}
}

// Verify checks username's karma and, when it clears the threshold, grants
// the verified privilege to participantID. A result below the threshold is
// not an error.
func (s *Service) Verify(ctx context.Context, participantID, username string) (domain.Verification, error) {
	name := NormalizeUsername(username)
	res := domain.Verification{ParticipantID: participantID, Username: name}
	if name == "" {
		return res, ErrInvalidUsername
	}

	karma, err := s.Lookup.FetchKarma(ctx, name)
	if errors.Is(err, reputation.ErrNotFound) {
		return res, fmt.Errorf("%w: u/%s", ErrUserNotFound, name)
	}
	if err != nil {
		return res, fmt.Errorf("could not verify account: %w", err)
	}
	res.LinkKarma = karma.Link
	res.CommentKarma = karma.Comment
	total := res.TotalKarma()

	if total < s.minKarma() {
		res.Reason = printer.Sprintf("%d more karma needed", s.minKarma()-total)
		s.postLog(ctx, "Verification failed: @%s (u/%s) has %d karma (need %d+)", participantID, name, total, s.minKarma())
		return res, nil
	}

	priv := s.privilege()
	held, err := s.Sink.HasPrivilege(ctx, participantID, priv)
	if err != nil {
		return res, fmt.Errorf("check %s: %w", priv, err)
	}
	if held {
		res.Verified = true
		res.AlreadyHeld = true
		return res, nil
	}
	if err := s.Sink.CheckGrantAuthority(ctx, priv); err != nil {
		return res, err
	}
	if err := s.Sink.GrantPrivilege(ctx, participantID, priv); err != nil {
		return res, err
	}
	res.Verified = true
	s.postLog(ctx, "Verification successful: @%s verified as u/%s with %d karma", participantID, name, total)
	return res, nil
}
