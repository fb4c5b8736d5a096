package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/stretchr/testify/require"
)

func insert(t *testing.T, s *Store, email string) string {
	t.Helper()
	id, err := s.InsertUser(context.Background(), authcore.NewUser{
		Email:        email,
		PasswordHash: "digest",
		Provider:     authcore.ProviderPassword,
		Active:       true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func addDigest(t *testing.T, s *Store, id, digest string) {
	t.Helper()
	evicted, err := s.AddRefreshDigest(context.Background(), id, digest, 0)
	require.NoError(t, err)
	require.Empty(t, evicted)
}

func TestInsertAndFind(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := insert(t, s, "a@x.com")

	u, err := s.FindUserByEmail(ctx, " A@X.com")
	require.NoError(t, err)
	require.Equal(t, id, u.ID)
	require.True(t, u.Active)
	require.False(t, u.EmailVerified)
	require.False(t, u.CreatedAt.IsZero())

	_, err = s.InsertUser(ctx, authcore.NewUser{Email: "A@x.com"})
	require.ErrorIs(t, err, authcore.ErrDuplicateEmail)

	_, err = s.FindUserByID(ctx, "missing")
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
	_, err = s.FindUserByEmail(ctx, "b@x.com")
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
	require.Equal(t, 1, s.Len())
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := insert(t, s, "a@x.com")
	addDigest(t, s, id, "d1")

	u, err := s.FindUserByID(ctx, id)
	require.NoError(t, err)
	u.RefreshDigests[0] = "tampered"
	u.Email = "other@x.com"

	again, err := s.FindUserByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"d1"}, again.RefreshDigests)
	require.Equal(t, "a@x.com", again.Email)
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := insert(t, s, "a@x.com")

	hash := "new-digest"
	verified := true
	require.NoError(t, s.UpdateUser(ctx, id, authcore.UserPatch{PasswordHash: &hash, EmailVerified: &verified}))
	u, _ := s.FindUserByID(ctx, id)
	require.Equal(t, "new-digest", u.PasswordHash)
	require.True(t, u.EmailVerified)

	require.NoError(t, s.UpdateUser(ctx, id, authcore.UserPatch{TwoFactor: &authcore.TwoFactor{
		SecretBase32:      "SECRET",
		BackupCodeDigests: []string{"b1", "b2"},
		Enabled:           true,
	}}))
	u, _ = s.FindUserByID(ctx, id)
	require.True(t, u.TwoFactor.Enabled)
	require.Equal(t, "new-digest", u.PasswordHash)

	require.ErrorIs(t, s.UpdateUser(ctx, "missing", authcore.UserPatch{}), authcore.ErrUserNotFound)
	require.NoError(t, s.SetActive(id, false))
	u, _ = s.FindUserByID(ctx, id)
	require.False(t, u.Active)
}

func TestRefreshDigests(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := insert(t, s, "a@x.com")

	addDigest(t, s, id, "d1")
	addDigest(t, s, id, "d2")
	addDigest(t, s, id, "d2")

	ok, err := s.ReplaceRefreshDigest(ctx, id, "d1", "d3")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ReplaceRefreshDigest(ctx, id, "d1", "d4")
	require.NoError(t, err)
	require.False(t, ok)

	u, _ := s.FindUserByID(ctx, id)
	require.ElementsMatch(t, []string{"d2", "d3"}, u.RefreshDigests)

	require.NoError(t, s.RemoveRefreshDigest(ctx, id, "d2"))
	u, _ = s.FindUserByID(ctx, id)
	require.Equal(t, []string{"d3"}, u.RefreshDigests)

	require.NoError(t, s.ClearRefreshDigests(ctx, id))
	u, _ = s.FindUserByID(ctx, id)
	require.Empty(t, u.RefreshDigests)

	_, err = s.ReplaceRefreshDigest(ctx, "missing", "a", "b")
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
}

func TestAddRefreshDigestEvictsLeastRecentlyRotated(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := insert(t, s, "a@x.com")

	for _, d := range []string{"d1", "d2", "d3"} {
		evicted, err := s.AddRefreshDigest(ctx, id, d, 3)
		require.NoError(t, err)
		require.Empty(t, evicted)
	}

	// rotating d1 makes d2 the stalest entry
	ok, err := s.ReplaceRefreshDigest(ctx, id, "d1", "d1b")
	require.NoError(t, err)
	require.True(t, ok)

	evicted, err := s.AddRefreshDigest(ctx, id, "d4", 3)
	require.NoError(t, err)
	require.Equal(t, []string{"d2"}, evicted)

	u, _ := s.FindUserByID(ctx, id)
	require.Equal(t, []string{"d3", "d1b", "d4"}, u.RefreshDigests)

	_, err = s.AddRefreshDigest(ctx, "missing", "d", 3)
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
}

func TestAdvanceTOTPCounterOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := insert(t, s, "a@x.com")

	ok, err := s.AdvanceTOTPCounter(ctx, id, 100)
	require.NoError(t, err)
	require.True(t, ok)

	for _, c := range []int64{100, 99} {
		ok, err = s.AdvanceTOTPCounter(ctx, id, c)
		require.NoError(t, err)
		require.False(t, ok, "counter %d", c)
	}

	// replacing the 2FA state keeps the counter
	require.NoError(t, s.UpdateUser(ctx, id, authcore.UserPatch{TwoFactor: &authcore.TwoFactor{}}))
	u, _ := s.FindUserByID(ctx, id)
	require.Equal(t, int64(100), u.TwoFactor.LastUsedCounter)

	ok, err = s.AdvanceTOTPCounter(ctx, id, 101)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.AdvanceTOTPCounter(ctx, "missing", 1)
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
}

func TestConcurrentReplaceSwapsOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := insert(t, s, "a@x.com")
	addDigest(t, s, id, "old")

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.ReplaceRefreshDigest(ctx, id, "old", "new-"+string(rune('a'+i)))
			if err == nil {
				results <- ok
			}
		}(i)
	}
	wg.Wait()
	close(results)

	swaps := 0
	for ok := range results {
		if ok {
			swaps++
		}
	}
	require.Equal(t, 1, swaps)

	u, _ := s.FindUserByID(ctx, id)
	require.Len(t, u.RefreshDigests, 1)
}

func TestConsumeBackupCode(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := insert(t, s, "a@x.com")
	require.NoError(t, s.UpdateUser(ctx, id, authcore.UserPatch{TwoFactor: &authcore.TwoFactor{
		BackupCodeDigests: []string{"b1", "b2"},
		Enabled:           true,
	}}))

	ok, err := s.ConsumeBackupCode(ctx, id, "b1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ConsumeBackupCode(ctx, id, "b1")
	require.NoError(t, err)
	require.False(t, ok)

	u, _ := s.FindUserByID(ctx, id)
	require.Equal(t, []string{"b2"}, u.TwoFactor.BackupCodeDigests)
}
