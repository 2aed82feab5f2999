package boltstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"telegram-smsbot/internal/adapters/provider"
	"telegram-smsbot/internal/domain/history"
	"telegram-smsbot/internal/domain/users"
	"telegram-smsbot/internal/infra/storage/boltstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *boltstore.Store {
	t.Helper()
	s, err := boltstore.Open(filepath.Join(t.TempDir(), "data", "smsbot.bbolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUsersRoundTrip(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	_, err := s.GetUser(ctx, 1)
	require.ErrorIs(t, err, users.ErrNotFound)

	u := users.User{ID: 1, Username: "alice", Balance: decimal.RequireFromString("1.25"), Role: users.RoleUser}
	require.NoError(t, s.CreateUser(ctx, u))
	require.ErrorIs(t, s.CreateUser(ctx, u), users.ErrExists)

	got, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("1.25")))

	require.NoError(t, s.CreateUser(ctx, users.User{ID: 300}))
	list, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, int64(300), list[1].ID)
}

func TestUpdateUserIsTransactional(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, users.User{ID: 1, Balance: decimal.NewFromInt(1)}))

	errStop := errors.New("stop")
	_, err := s.UpdateUser(ctx, 1, func(u *users.User) error {
		u.Balance = decimal.Zero
		return errStop
	})
	require.ErrorIs(t, err, errStop)

	got, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1)), "failed update must not persist")

	got, err = s.UpdateUser(ctx, 1, func(u *users.User) error {
		u.Authorized = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, got.Authorized)

	_, err = s.UpdateUser(ctx, 2, func(*users.User) error { return nil })
	require.ErrorIs(t, err, users.ErrNotFound)
}

func TestServiceChargeOverBolt(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	svc := users.NewService(s, users.Options{StartBalance: decimal.RequireFromString("0.10")})
	ctx := context.Background()

	_, err := svc.Ensure(ctx, users.Identity{ID: 9})
	require.NoError(t, err)

	cost := decimal.RequireFromString("0.05")
	done := make(chan error, 3)
	for range 3 {
		go func() {
			_, err := svc.Charge(ctx, 9, cost)
			done <- err
		}()
	}
	var failed int
	for range 3 {
		if err := <-done; err != nil {
			require.ErrorIs(t, err, users.ErrInsufficientBalance)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	u, err := s.GetUser(ctx, 9)
	require.NoError(t, err)
	assert.True(t, u.Balance.IsZero())
	assert.Equal(t, 2, u.SMSChecks)
}

func TestCookies(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	got, err := s.LoadCookies(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, got)

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	want := []provider.Cookie{{Name: "session", Value: "abc", Domain: ".ivasms.com", Expires: exp}}
	require.NoError(t, s.SaveCookies(ctx, "main", want))

	got, err = s.LoadCookies(ctx, "main")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].Value)
	assert.True(t, got[0].Expires.Equal(exp))

	other, err := s.LoadCookies(ctx, "backup")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestHistory(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	entries := []history.Entry{
		{UserID: 1, Number: "+8801712345678", Date: "2024-03-01 10:00:00", Message: "first"},
		{UserID: 1, Number: "+8801712345678", Date: "2024-03-01 11:00:00", Message: "second"},
		{UserID: 2, Number: "+919876543210", Date: "2024-03-01 11:00:00", Message: "other user"},
	}
	n, err := s.Append(ctx, entries...)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Append(ctx, entries[1], history.Entry{UserID: 1, Number: "+8801712345678", Date: "2024-03-01 12:00:00", Message: "third"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recent, err := s.Recent(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Message)
	assert.Equal(t, "second", recent[1].Message)

	none, err := s.Recent(ctx, 42, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GetUser(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}
