package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/kv"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

func newRedisRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRegistry(kv.NewRedis(rdb), ""), mr
}

func registries(t *testing.T) map[string]*Registry {
	t.Helper()
	r, _ := newRedisRegistry(t)
	m := kv.NewMemory(0)
	t.Cleanup(m.Close)
	return map[string]*Registry{"redis": r, "memory": NewRegistry(m, "")}
}

func create(t *testing.T, r *Registry, userID, hash string) string {
	t.Helper()
	sid, err := r.Create(context.Background(), CreateParams{
		UserID:           userID,
		RefreshTokenHash: hash,
		UserAgent:        chromeUA,
		IP:               "203.0.113.7",
		ExpiresAt:        time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NotEmpty(t, sid)
	return sid
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			sid := create(t, r, "u1", "hash-1")

			sess, err := r.Get(ctx, sid)
			require.NoError(t, err)
			require.Equal(t, sid, sess.ID)
			require.Equal(t, "u1", sess.UserID)
			require.Equal(t, "hash-1", sess.RefreshTokenHash)
			require.Equal(t, "203.0.113.7", sess.IPAddress)
			require.Equal(t, "Chrome", sess.Device.Browser)
			require.Equal(t, "Windows", sess.Device.OS)
			require.Equal(t, KindDesktop, sess.Device.Kind)
			require.Len(t, sess.DeviceFingerprint, 64)

			_, err = r.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCreateRejectsInvalidParams(t *testing.T) {
	r, _ := newRedisRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, CreateParams{UserID: "u1", RefreshTokenHash: "h", ExpiresAt: time.Now().Add(-time.Second)})
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = r.Create(ctx, CreateParams{RefreshTokenHash: "h", ExpiresAt: time.Now().Add(time.Hour)})
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = r.Create(ctx, CreateParams{ID: "not-a-session-id", UserID: "u1", RefreshTokenHash: "h", ExpiresAt: time.Now().Add(time.Hour)})
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestCreateKeepsPreassignedID(t *testing.T) {
	r, _ := newRedisRegistry(t)
	ctx := context.Background()

	want, err := internal.NewSessionID()
	require.NoError(t, err)
	sid, err := r.Create(ctx, CreateParams{
		ID:               want.String(),
		UserID:           "u1",
		RefreshTokenHash: "h",
		ExpiresAt:        time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, want.String(), sid)

	sess, err := r.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, "u1", sess.UserID)
}

func TestRevokedSessionNeverListed(t *testing.T) {
	ctx := context.Background()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			a := create(t, r, "u1", "hash-a")
			b := create(t, r, "u1", "hash-b")
			create(t, r, "u2", "hash-c")

			list, err := r.ListByUser(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 2)

			ok, err := r.Revoke(ctx, "u1", a)
			require.NoError(t, err)
			require.True(t, ok)

			list, err = r.ListByUser(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			require.Equal(t, b, list[0].ID)

			ok, err = r.Revoke(ctx, "u1", a)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestRevokeRejectsForeignSession(t *testing.T) {
	ctx := context.Background()
	r, _ := newRedisRegistry(t)
	sid := create(t, r, "owner", "hash")

	ok, err := r.Revoke(ctx, "intruder", sid)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = r.Get(ctx, sid)
	require.NoError(t, err)
}

func TestRevokeAllReturnsRecords(t *testing.T) {
	ctx := context.Background()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			create(t, r, "u1", "hash-a")
			create(t, r, "u1", "hash-b")
			other := create(t, r, "u2", "hash-c")

			revoked, err := r.RevokeAll(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, revoked, 2)
			hashes := []string{revoked[0].RefreshTokenHash, revoked[1].RefreshTokenHash}
			require.ElementsMatch(t, []string{"hash-a", "hash-b"}, hashes)

			list, err := r.ListByUser(ctx, "u1")
			require.NoError(t, err)
			require.Empty(t, list)

			_, err = r.Get(ctx, other)
			require.NoError(t, err)
		})
	}
}

func TestRotateChecksOldHash(t *testing.T) {
	ctx := context.Background()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			sid := create(t, r, "u1", "hash-1")

			_, err := r.Rotate(ctx, sid, "wrong", "hash-2", time.Now().Add(2*time.Hour))
			require.ErrorIs(t, err, ErrRefreshHashMismatch)

			sess, err := r.Rotate(ctx, sid, "hash-1", "hash-2", time.Now().Add(2*time.Hour))
			require.NoError(t, err)
			require.Equal(t, "hash-2", sess.RefreshTokenHash)

			found, err := r.FindByRefreshHash(ctx, "u1", "hash-2")
			require.NoError(t, err)
			require.Equal(t, sid, found.ID)

			_, err = r.FindByRefreshHash(ctx, "u1", "hash-1")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRotateDoesNotResurrectRevokedSession(t *testing.T) {
	ctx := context.Background()
	r, _ := newRedisRegistry(t)
	sid := create(t, r, "u1", "hash-1")

	sess, err := r.Get(ctx, sid)
	require.NoError(t, err)

	_, err = r.Revoke(ctx, "u1", sid)
	require.NoError(t, err)

	sess.LastActiveAt = time.Now()
	require.ErrorIs(t, r.update(ctx, sess), ErrNotFound)

	_, err = r.Get(ctx, sid)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTouchUpdatesLastActive(t *testing.T) {
	ctx := context.Background()
	r, _ := newRedisRegistry(t)
	sid := create(t, r, "u1", "hash-1")

	before, err := r.Get(ctx, sid)
	require.NoError(t, err)

	later := time.Now().Add(10 * time.Minute)
	r.now = func() time.Time { return later }
	require.NoError(t, r.Touch(ctx, sid))

	after, err := r.Get(ctx, sid)
	require.NoError(t, err)
	require.True(t, after.LastActiveAt.After(before.LastActiveAt))
	require.Equal(t, before.ExpiresAt.UnixMilli(), after.ExpiresAt.UnixMilli())
}

func TestListPrunesExpiredMembers(t *testing.T) {
	ctx := context.Background()
	r, mr := newRedisRegistry(t)

	short, err := r.Create(ctx, CreateParams{
		UserID:           "u1",
		RefreshTokenHash: "short",
		ExpiresAt:        time.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	long := create(t, r, "u1", "long")

	mr.FastForward(2 * time.Minute)

	list, err := r.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, long, list[0].ID)

	members, err := mr.Members(r.userKey("u1"))
	require.NoError(t, err)
	require.NotContains(t, members, short)
}

func TestConcurrentCreateAndRevokeAll(t *testing.T) {
	ctx := context.Background()
	r, _ := newRedisRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Create(ctx, CreateParams{
				UserID:           "u1",
				RefreshTokenHash: "h",
				ExpiresAt:        time.Now().Add(time.Hour),
			})
		}()
	}
	wg.Wait()

	revoked, err := r.RevokeAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, revoked, 20)

	list, err := r.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, list)
}
