package users_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telegram-smsbot/internal/domain/users"
	"telegram-smsbot/internal/infra/clock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore — хранилище пользователей в памяти. getFailures первых вызовов GetUser
// возвращают ErrContention.
type memStore struct {
	mu          sync.Mutex
	users       map[int64]users.User
	getFailures int
	getCalls    int
}

func newMemStore() *memStore { return &memStore{users: make(map[int64]users.User)} }

func (m *memStore) GetUser(_ context.Context, id int64) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getFailures > 0 {
		m.getFailures--
		return users.User{}, users.ErrContention
	}
	u, ok := m.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func (m *memStore) CreateUser(_ context.Context, u users.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return users.ErrExists
	}
	m.users[u.ID] = u
	return nil
}

func (m *memStore) UpdateUser(_ context.Context, id int64, fn func(u *users.User) error) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	if err := fn(&u); err != nil {
		return users.User{}, err
	}
	m.users[id] = u
	return u, nil
}

func (m *memStore) ListUsers(context.Context) ([]users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]users.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(store users.Store, admins ...int64) *users.Service {
	return users.NewService(store, users.Options{
		Admins:       admins,
		StartBalance: decimal.RequireFromString("0.10"),
		Now:          clock.Fixed(testNow),
	})
}

func TestEnsureCreatesAndRefreshes(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := newService(store, 100)

	u, err := svc.Ensure(context.Background(), users.Identity{ID: 1, Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, users.RoleUser, u.Role)
	assert.False(t, u.Authorized)
	assert.True(t, u.Balance.Equal(decimal.RequireFromString("0.10")))
	assert.Equal(t, testNow, u.CreatedAt)

	u, err = svc.Ensure(context.Background(), users.Identity{ID: 1, Username: "alice2", FirstName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.Username)
	assert.Equal(t, "Alice", u.FirstName)

	admin, err := svc.Ensure(context.Background(), users.Identity{ID: 100})
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
	assert.True(t, admin.Authorized)
}

func TestEnsureRetriesContention(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.getFailures = 2
	svc := newService(store)

	_, err := svc.Ensure(context.Background(), users.Identity{ID: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, store.getCalls)
}

func TestEnsureGivesUpAfterThreeAttempts(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.getFailures = 10
	svc := newService(store)

	_, err := svc.Ensure(context.Background(), users.Identity{ID: 5})
	require.ErrorIs(t, err, users.ErrContention)
	assert.Equal(t, 3, store.getCalls)
}

type brokenStore struct{ *memStore }

var errDisk = errors.New("disk on fire")

func (brokenStore) GetUser(context.Context, int64) (users.User, error) { return users.User{}, errDisk }

func TestEnsureDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	svc := newService(brokenStore{newMemStore()})
	_, err := svc.Ensure(context.Background(), users.Identity{ID: 5})
	require.ErrorIs(t, err, errDisk)
}

func TestCharge(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := newService(store, 100)
	ctx := context.Background()

	_, err := svc.Ensure(ctx, users.Identity{ID: 1})
	require.NoError(t, err)

	cost := decimal.RequireFromString("0.05")
	u, err := svc.Charge(ctx, 1, cost)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(cost), "balance=%s", u.Balance)
	assert.Equal(t, 1, u.SMSChecks)

	_, err = svc.Charge(ctx, 1, cost)
	require.NoError(t, err)

	_, err = svc.Charge(ctx, 1, cost)
	require.ErrorIs(t, err, users.ErrInsufficientBalance)

	got, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
	assert.Equal(t, 2, got.SMSChecks)

	_, err = svc.Charge(ctx, 42, cost)
	require.ErrorIs(t, err, users.ErrNotFound)

	_, err = svc.Ensure(ctx, users.Identity{ID: 100})
	require.NoError(t, err)
	for range 5 {
		_, err = svc.Charge(ctx, 100, cost)
		require.NoError(t, err)
	}
}

func TestCheckAccess(t *testing.T) {
	t.Parallel()

	svc := newService(newMemStore(), 100)

	cases := []struct {
		name string
		user users.User
		want error
	}{
		{name: "fresh", user: users.User{ID: 1}, want: users.ErrNotAuthorized},
		{name: "authorized", user: users.User{ID: 1, Authorized: true}},
		{name: "banned", user: users.User{ID: 1, Authorized: true, Banned: true}, want: users.ErrBanned},
		{name: "config admin", user: users.User{ID: 100, Banned: true}},
		{name: "role admin", user: users.User{ID: 2, Role: users.RoleAdmin}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, svc.CheckAccess(tc.user), tc.want)
		})
	}
}

func TestAdminOperations(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := newService(store, 100)
	ctx := context.Background()

	u, err := svc.Authorize(ctx, 7)
	require.NoError(t, err)
	assert.True(t, u.Authorized)

	u, err = svc.Ban(ctx, 7)
	require.NoError(t, err)
	assert.True(t, u.Banned)
	assert.False(t, u.Authorized)

	u, err = svc.Unban(ctx, 7)
	require.NoError(t, err)
	assert.False(t, u.Banned)

	_, err = svc.Ban(ctx, 100)
	require.ErrorIs(t, err, users.ErrNotAdmin)

	_, err = svc.Unban(ctx, 8)
	require.ErrorIs(t, err, users.ErrNotFound)

	u, err = svc.TopUp(ctx, 7, decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.Equal(t, "3.1", u.Balance.String())

	_, err = svc.TopUp(ctx, 7, decimal.Zero)
	require.ErrorIs(t, err, users.ErrInvalidAmount)

	assert.True(t, svc.IsAdmin(ctx, 100))
	assert.False(t, svc.IsAdmin(ctx, 7))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(7), list[0].ID)
}
