package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/reputation"
	"taskline/internal/sink"
	"taskline/internal/testutil"
)

type fakeLookup map[string]reputation.Karma

func (f fakeLookup) FetchKarma(_ context.Context, username string) (reputation.Karma, error) {
	if username == "flaky" {
		return reputation.Karma{}, errors.New("rate limited")
	}
	k, ok := f[username]
	if !ok {
		return reputation.Karma{}, reputation.ErrNotFound
	}
	return k, nil
}

func newService() (*Service, *testutil.Sink) {
	s := testutil.NewSink()
	return &Service{
		Lookup: fakeLookup{
			"veteran": {Link: 1000, Comment: 234},
			"newbie":  {Link: 10, Comment: 5},
			"café":    {Link: 400, Comment: 100},
		},
		Sink: s,
	}, s
}

func TestNormalizeUsername(t *testing.T) {
	assert.Equal(t, "veteran", NormalizeUsername("u/veteran"))
	assert.Equal(t, "veteran", NormalizeUsername(" /u/veteran "))
	assert.Equal(t, "café", NormalizeUsername("café"))
	assert.Equal(t, "", NormalizeUsername("u/"))
}

func TestVerify_GrantsAboveThreshold(t *testing.T) {
	svc, s := newService()

	res, err := svc.Verify(context.Background(), "p1", "u/veteran")
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.False(t, res.AlreadyHeld)
	assert.Equal(t, 1234, res.TotalKarma())
	assert.True(t, s.Holds("p1", DefaultPrivilege))
	assert.Equal(t, []string{"Verification successful: @p1 verified as u/veteran with 1,234 karma"}, s.Logs())
}

func TestVerify_ExactThresholdPassesAfterNormalisation(t *testing.T) {
	svc, s := newService()
	res, err := svc.Verify(context.Background(), "p2", "café")
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.True(t, s.Holds("p2", DefaultPrivilege))
}

func TestVerify_BelowThreshold(t *testing.T) {
	svc, s := newService()

	res, err := svc.Verify(context.Background(), "p3", "newbie")
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, "485 more karma needed", res.Reason)
	assert.Empty(t, s.Grants())
	assert.Equal(t, []string{"Verification failed: @p3 (u/newbie) has 15 karma (need 500+)"}, s.Logs())
}

func TestVerify_AlreadyHeld(t *testing.T) {
	svc, s := newService()
	require.NoError(t, s.GrantPrivilege(context.Background(), "p4", DefaultPrivilege))

	res, err := svc.Verify(context.Background(), "p4", "veteran")
	require.NoError(t, err)
	assert.True(t, res.AlreadyHeld)
	assert.Len(t, s.Grants(), 1)
}

func TestVerify_Errors(t *testing.T) {
	svc, s := newService()
	ctx := context.Background()

	_, err := svc.Verify(ctx, "p5", "  ")
	assert.ErrorIs(t, err, ErrInvalidUsername)

	_, err = svc.Verify(ctx, "p5", "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.Verify(ctx, "p5", "flaky")
	assert.ErrorContains(t, err, "rate limited")

	s.AuthorityErr = sink.ErrRankTooLow
	_, err = svc.Verify(ctx, "p5", "veteran")
	assert.ErrorIs(t, err, sink.ErrRankTooLow)
	assert.False(t, s.Holds("p5", DefaultPrivilege))
}
