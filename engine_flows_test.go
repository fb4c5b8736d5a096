package authcore_test

import (
	"bytes"
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "a@x.com", "Abc12345")

	_, err := h.engine.Register(ctx, authcore.RegisterRequest{Email: " A@X.com ", Password: "Abc12345"})
	require.ErrorIs(t, err, authcore.ErrAlreadyRegistered)

	_, err = h.engine.Register(ctx, authcore.RegisterRequest{Email: "b@x.com", Password: "short"})
	require.ErrorIs(t, err, authcore.ErrPasswordPolicy)

	_, err = h.engine.Register(ctx, authcore.RegisterRequest{Email: "not-an-email", Password: "Abc12345"})
	require.ErrorIs(t, err, authcore.ErrInvalidEmail)

	require.Equal(t, 1, h.users.Len())
}

func TestConcurrentRegistrationCreatesOneUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Register(ctx, authcore.RegisterRequest{Email: "race@x.com", Password: "Abc12345"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, authcore.ErrAlreadyRegistered)
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, h.users.Len())
}

func TestLoginUnknownEmailLooksLikeWrongPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "a@x.com", "Abc12345")

	_, errUnknown := h.engine.Login(ctx, authcore.LoginRequest{Email: "nobody@x.com", Password: "Abc12345"})
	_, errWrong := h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "Abc12346"})
	require.ErrorIs(t, errUnknown, authcore.ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, authcore.ErrInvalidCredentials)
	require.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestSuccessfulLoginClearsFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "a@x.com", "Abc12345")

	for i := 0; i < 4; i++ {
		_, err := h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "nope-nope"})
		require.ErrorIs(t, err, authcore.ErrInvalidCredentials)
	}
	h.login(t, "a@x.com", "Abc12345")

	// four more failures stay under the limit again
	for i := 0; i < 4; i++ {
		_, err := h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "nope-nope"})
		require.ErrorIs(t, err, authcore.ErrInvalidCredentials)
	}
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")
	require.NoError(t, h.users.SetActive(reg.UserID, false))

	_, err := h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "Abc12345"})
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)

	_, err = h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)
}

func TestEmailVerificationByCode(t *testing.T) {
	h := newHarness(t, func(c *authcore.Config) { c.EmailVerification.RequireForLogin = true })
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")

	_, err := h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "Abc12345"})
	require.ErrorIs(t, err, authcore.ErrEmailNotVerified)

	// a wrong password never reveals the verification state
	_, err = h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "Abc12399"})
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)

	require.ErrorIs(t, h.engine.ConfirmEmail(ctx, reg.UserID, "12345"), authcore.ErrVerificationInvalid)

	code := h.notifier.last(t).code
	require.NoError(t, h.engine.ConfirmEmail(ctx, reg.UserID, code))
	require.ErrorIs(t, h.engine.ConfirmEmail(ctx, reg.UserID, code), authcore.ErrVerificationInvalid)

	res := h.login(t, "a@x.com", "Abc12345")
	require.True(t, res.EmailVerified)

	info, err := h.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	require.True(t, info.EmailVerified)
}

func TestEmailVerificationByLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")

	link, err := url.Parse(h.notifier.last(t).link)
	require.NoError(t, err)
	token := link.Query().Get("token")
	require.NotEmpty(t, token)

	uid, err := h.engine.ConfirmEmailLink(ctx, token)
	require.NoError(t, err)
	require.Equal(t, reg.UserID, uid)

	_, err = h.engine.ConfirmEmailLink(ctx, token)
	require.ErrorIs(t, err, authcore.ErrVerificationInvalid)

	user, _ := h.users.FindUserByID(ctx, reg.UserID)
	require.True(t, user.EmailVerified)
}

func TestRequestEmailVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "a@x.com", "Abc12345")
	sent := len(h.notifier.msgs)

	// registration already sent a code; the caller cannot tell
	state, err := h.engine.RequestEmailVerification(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "a****@x.com", state.MaskedDestination)
	require.Len(t, h.notifier.msgs, sent)

	_, err = h.engine.RequestEmailVerification(ctx, "A@x.com ")
	require.ErrorIs(t, err, authcore.ErrTooManyAttempts)
	var retry *authcore.RetryError
	require.ErrorAs(t, err, &retry)
	require.Greater(t, retry.RetryAfterSeconds(), 0)
	require.LessOrEqual(t, retry.RetryAfterSeconds(), 60)

	h.redis.FastForward(61 * time.Second)
	state, err = h.engine.RequestEmailVerification(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "a****@x.com", state.MaskedDestination)
	require.Len(t, h.notifier.msgs, sent+1)
}

func TestRequestEmailVerificationDoesNotRevealAccounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "pending@x.com", "Abc12345")
	verified := h.register(t, "done@x.com", "Abc12345")
	require.NoError(t, h.engine.ConfirmEmail(ctx, verified.UserID, h.notifier.last(t).code))
	sent := len(h.notifier.msgs)

	for _, email := range []string{"pending@x.com", "done@x.com", "ghost@x.com"} {
		state, err := h.engine.RequestEmailVerification(ctx, email)
		require.NoError(t, err, email)
		require.NotEmpty(t, state.MaskedDestination, email)
		require.WithinDuration(t, time.Now().Add(time.Minute), state.ResendAvailableAt, 5*time.Second, email)

		_, err = h.engine.RequestEmailVerification(ctx, email)
		var retry *authcore.RetryError
		require.ErrorAs(t, err, &retry, email)
		require.InDelta(t, 60, retry.RetryAfterSeconds(), 2, email)
	}
	require.Len(t, h.notifier.msgs, sent)
}

func TestLoginWithTwoFactor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")
	setup, err := h.engine.EnableTwoFactor(ctx, reg.UserID, "Abc12345")
	require.NoError(t, err)
	require.NoError(t, h.engine.VerifyTwoFactorSetup(ctx, reg.UserID, h.codeAt(t, setup.SecretBase32, 0)))

	_, err = h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "Abc12345"})
	require.ErrorIs(t, err, authcore.ErrTwoFactorRequired)

	_, err = h.engine.Login(ctx, authcore.LoginRequest{
		Email: "a@x.com", Password: "Abc12345", TOTPCode: h.wrongCode(t, setup.SecretBase32),
	})
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)

	res, err := h.engine.Login(ctx, authcore.LoginRequest{
		Email: "a@x.com", Password: "Abc12345", TOTPCode: h.codeAt(t, setup.SecretBase32, 1),
	})
	require.NoError(t, err)
	require.True(t, res.TwoFactorEnabled)
	require.False(t, res.UsedBackupCode)

	res, err = h.engine.Login(ctx, authcore.LoginRequest{
		Email: "a@x.com", Password: "Abc12345", BackupCode: setup.BackupCodes[0],
	})
	require.NoError(t, err)
	require.True(t, res.UsedBackupCode)
	require.Equal(t, 9, res.BackupCodesRemain)

	_, err = h.engine.Login(ctx, authcore.LoginRequest{
		Email: "a@x.com", Password: "Abc12345", BackupCode: setup.BackupCodes[0],
	})
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)
}

func TestTOTPCodeIsAcceptedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")
	setup, err := h.engine.EnableTwoFactor(ctx, reg.UserID, "Abc12345")
	require.NoError(t, err)
	secret := setup.SecretBase32

	setupCode := h.codeAt(t, secret, 0)
	require.NoError(t, h.engine.VerifyTwoFactorSetup(ctx, reg.UserID, setupCode))

	// the code that finished setup cannot open a session
	_, err = h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "Abc12345", TOTPCode: setupCode})
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)

	code := h.codeAt(t, secret, 1)
	_, err = h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "Abc12345", TOTPCode: code})
	require.NoError(t, err)

	// an observed code is worthless for a second login or a settings change
	_, err = h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "Abc12345", TOTPCode: code})
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)
	_, err = h.engine.RegenerateBackupCodes(ctx, reg.UserID, code)
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)

	// an older step is refused once a newer one was used
	_, err = h.engine.RegenerateBackupCodes(ctx, reg.UserID, h.codeAt(t, secret, -1))
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)

	user, _ := h.users.FindUserByID(ctx, reg.UserID)
	require.Greater(t, user.TwoFactor.LastUsedCounter, int64(0))
}

func TestTOTPGuessingLocksEveryTwoFactorFlow(t *testing.T) {
	h := newHarness(t, func(c *authcore.Config) { c.TOTP.Skew = 2 })
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")
	setup, err := h.engine.EnableTwoFactor(ctx, reg.UserID, "Abc12345")
	require.NoError(t, err)
	secret := setup.SecretBase32
	require.NoError(t, h.engine.VerifyTwoFactorSetup(ctx, reg.UserID, h.codeAt(t, secret, 0)))

	wrong := h.wrongCode(t, secret)
	for i := 1; i <= 4; i++ {
		_, err := h.engine.RegenerateBackupCodes(ctx, reg.UserID, wrong)
		require.ErrorIs(t, err, authcore.ErrInvalidCredentials, "attempt %d", i)
	}
	_, err = h.engine.RegenerateBackupCodes(ctx, reg.UserID, wrong)
	require.ErrorIs(t, err, authcore.ErrTooManyAttempts)

	// the right code does not get through while locked, whichever flow
	// carries it
	good := h.codeAt(t, secret, 1)
	_, err = h.engine.RegenerateBackupCodes(ctx, reg.UserID, good)
	var retry *authcore.RetryError
	require.ErrorAs(t, err, &retry)
	require.InDelta(t, 300, retry.RetryAfterSeconds(), 2)

	err = h.engine.DisableTwoFactor(ctx, reg.UserID, "Abc12345", good)
	require.ErrorIs(t, err, authcore.ErrTooManyAttempts)

	_, err = h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "Abc12345", TOTPCode: good})
	require.ErrorIs(t, err, authcore.ErrAccountLocked)

	user, _ := h.users.FindUserByID(ctx, reg.UserID)
	require.True(t, user.TwoFactor.Enabled)

	h.redis.FastForward(5*time.Minute + time.Second)
	codes, err := h.engine.RegenerateBackupCodes(ctx, reg.UserID, good)
	require.NoError(t, err)
	require.Len(t, codes, 10)
}

func TestRegenerateAndDisableTwoFactor(t *testing.T) {
	h := newHarness(t, func(c *authcore.Config) { c.TOTP.Skew = 2 })
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")

	_, err := h.engine.RegenerateBackupCodes(ctx, reg.UserID, "123456")
	require.ErrorIs(t, err, authcore.ErrTwoFactorNotEnabled)
	require.ErrorIs(t, h.engine.VerifyTwoFactorSetup(ctx, reg.UserID, "123456"), authcore.ErrTwoFactorNotEnabled)

	_, err = h.engine.EnableTwoFactor(ctx, reg.UserID, "wrong-password")
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)

	setup, err := h.engine.EnableTwoFactor(ctx, reg.UserID, "Abc12345")
	require.NoError(t, err)
	secret := setup.SecretBase32
	require.NoError(t, h.engine.VerifyTwoFactorSetup(ctx, reg.UserID, h.codeAt(t, secret, 0)))

	codes, err := h.engine.RegenerateBackupCodes(ctx, reg.UserID, h.codeAt(t, secret, 1))
	require.NoError(t, err)
	require.Len(t, codes, 10)
	require.NotEqual(t, setup.BackupCodes, codes)

	_, err = h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "Abc12345", BackupCode: setup.BackupCodes[1]})
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)
	_, err = h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "Abc12345", BackupCode: codes[1]})
	require.NoError(t, err)

	// a wrong password leaves the code unspent
	last := h.codeAt(t, secret, 2)
	err = h.engine.DisableTwoFactor(ctx, reg.UserID, "wrong-password", last)
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)
	err = h.engine.DisableTwoFactor(ctx, reg.UserID, "Abc12345", h.wrongCode(t, secret))
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)

	require.NoError(t, h.engine.DisableTwoFactor(ctx, reg.UserID, "Abc12345", last))
	user, _ := h.users.FindUserByID(ctx, reg.UserID)
	require.False(t, user.TwoFactor.Enabled)
	require.Empty(t, user.TwoFactor.SecretBase32)
	require.Empty(t, user.TwoFactor.BackupCodeDigests)

	h.login(t, "a@x.com", "Abc12345")
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "a@x.com", "Abc12345")
	res := h.login(t, "a@x.com", "Abc12345")

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Refresh(ctx, res.Tokens.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, authcore.ErrTokenInvalid)
	}
	require.Equal(t, 1, wins)

	user, _ := h.users.FindUserByID(ctx, res.UserID)
	require.Len(t, user.RefreshDigests, 2)
}

func TestRefreshReuseRevokesEverything(t *testing.T) {
	h := newHarness(t, func(c *authcore.Config) { c.Security.RevokeOnRefreshReuse = true })
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")

	next, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	require.NoError(t, err)

	_, err = h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)

	_, err = h.engine.Refresh(ctx, next.Tokens.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)

	sessions, err := h.engine.ListSessions(ctx, reg.UserID)
	require.NoError(t, err)
	require.Empty(t, sessions)
	require.Equal(t, uint64(1), h.engine.MetricsSnapshot().Counters[authcore.MetricRefreshReuseDetected])
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")

	_, err := h.engine.Refresh(ctx, reg.Tokens.AccessToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)
	_, err = h.engine.Refresh(ctx, "garbage")
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)
	_, err = h.engine.VerifyAccess(ctx, reg.Tokens.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")
	other := h.login(t, "a@x.com", "Abc12345")

	require.NoError(t, h.engine.Logout(ctx, reg.Tokens.AccessToken, reg.Tokens.RefreshToken))

	_, err := h.engine.VerifyAccess(ctx, reg.Tokens.AccessToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)
	_, err = h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)
	require.ErrorIs(t, h.engine.Logout(ctx, "", reg.Tokens.RefreshToken), authcore.ErrTokenInvalid)

	// the other session is untouched
	_, err = h.engine.VerifyAccess(ctx, other.Tokens.AccessToken)
	require.NoError(t, err)
	sessions, err := h.engine.ListSessions(ctx, reg.UserID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, other.SessionID, sessions[0].ID)
}

func TestLogoutRevokesAccessTokenWhenRefreshIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")
	other := h.login(t, "a@x.com", "Abc12345")

	require.ErrorIs(t, h.engine.Logout(ctx, reg.Tokens.AccessToken, "garbage"), authcore.ErrTokenInvalid)
	_, err := h.engine.VerifyAccess(ctx, reg.Tokens.AccessToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)

	// a refresh token that was already logged out
	require.NoError(t, h.engine.Logout(ctx, "", reg.Tokens.RefreshToken))
	err = h.engine.Logout(ctx, other.Tokens.AccessToken, reg.Tokens.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)
	_, err = h.engine.VerifyAccess(ctx, other.Tokens.AccessToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)

	// only the bearer token died; its session can still refresh
	next, err := h.engine.Refresh(ctx, other.Tokens.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, other.SessionID, next.SessionID)
}

func TestSessionLimitEvictsLeastRecentlyRefreshed(t *testing.T) {
	h := newHarness(t, func(c *authcore.Config) {
		c.Session.MaxPerUser = 3
		c.Security.RevokeOnRefreshReuse = true
	})
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")
	first := h.login(t, "a@x.com", "Abc12345")
	second := h.login(t, "a@x.com", "Abc12345")

	// refreshing makes the registration session the most recent one
	renewed, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	require.NoError(t, err)

	third := h.login(t, "a@x.com", "Abc12345")

	user, err := h.users.FindUserByID(ctx, reg.UserID)
	require.NoError(t, err)
	require.Len(t, user.RefreshDigests, 3)

	sessions, err := h.engine.ListSessions(ctx, reg.UserID)
	require.NoError(t, err)
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	require.ElementsMatch(t, []string{renewed.SessionID, second.SessionID, third.SessionID}, ids)

	// the evicted token is revoked, not mistaken for reuse
	_, err = h.engine.Refresh(ctx, first.Tokens.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)
	sessions, err = h.engine.ListSessions(ctx, reg.UserID)
	require.NoError(t, err)
	require.Len(t, sessions, 3)

	for i := 0; i < 5; i++ {
		h.login(t, "a@x.com", "Abc12345")
	}
	user, err = h.users.FindUserByID(ctx, reg.UserID)
	require.NoError(t, err)
	require.Len(t, user.RefreshDigests, 3)
}

func TestTouchSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "a@x.com", "Abc12345")

	require.ErrorIs(t, h.engine.TouchSession(ctx, reg.UserID, "bogus"), authcore.ErrSessionNotFound)
	require.ErrorIs(t, h.engine.TouchSession(ctx, "someone-else", reg.SessionID), authcore.ErrSessionNotFound)

	before, err := h.engine.ListSessions(ctx, reg.UserID)
	require.NoError(t, err)
	// still inside the touch interval, so nothing is written
	require.NoError(t, h.engine.TouchSession(ctx, reg.UserID, reg.SessionID))
	after, err := h.engine.ListSessions(ctx, reg.UserID)
	require.NoError(t, err)
	require.Equal(t, before[0].LastActiveAt, after[0].LastActiveAt)
}

func TestRevokeSession(t *testing.T) {
	h := newHarness(t)
	ctx := authcore.WithUserAgent(
		authcore.WithClientIP(context.Background(), "203.0.113.9"),
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	)
	res, err := h.engine.Register(ctx, authcore.RegisterRequest{Email: "a@x.com", Password: "Abc12345"})
	require.NoError(t, err)

	sessions, err := h.engine.ListSessions(ctx, res.UserID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "203.0.113.9", sessions[0].IPAddress)
	require.Equal(t, "Chrome", sessions[0].Browser)

	require.ErrorIs(t, h.engine.RevokeSession(ctx, res.UserID, "not-a-session"), authcore.ErrSessionNotFound)
	require.ErrorIs(t, h.engine.RevokeSession(ctx, "someone-else", res.SessionID), authcore.ErrSessionNotFound)
	require.NoError(t, h.engine.RevokeSession(ctx, res.UserID, res.SessionID))
	require.ErrorIs(t, h.engine.RevokeSession(ctx, res.UserID, res.SessionID), authcore.ErrSessionNotFound)

	_, err = h.engine.VerifyRefresh(ctx, res.Tokens.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)
}

func TestAuditEvents(t *testing.T) {
	cfg := testConfig()
	sink := authcore.NewChannelSink(64)
	engine, err := authcore.New().
		WithConfig(cfg).
		WithUserStore(memory.New()).
		WithAuditSink(sink).
		Build()
	require.NoError(t, err)

	ctx := authcore.WithClientIP(context.Background(), "198.51.100.4")
	reg, err := engine.Register(ctx, authcore.RegisterRequest{Email: "a@x.com", Password: "Abc12345"})
	require.NoError(t, err)
	_, err = engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "bad-password"})
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)
	engine.Close()

	var got []authcore.AuditEvent
	for len(sink.Events()) > 0 {
		got = append(got, <-sink.Events())
	}
	types := make([]string, 0, len(got))
	for _, ev := range got {
		types = append(types, ev.EventType)
		require.Equal(t, "198.51.100.4", ev.IP)
	}
	require.Equal(t, []string{"email_verification_request", "register_success", "login_failure"}, types)
	require.Equal(t, reg.UserID, got[1].UserID)
	require.Equal(t, "invalid_credentials", got[2].Error)
	require.Zero(t, engine.AuditDropped())
}

func TestMetricsCountFlows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "a@x.com", "Abc12345")
	_, _ = h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "bad-password"})
	h.login(t, "a@x.com", "Abc12345")

	snap := h.engine.MetricsSnapshot()
	require.Equal(t, uint64(1), snap.Counters[authcore.MetricRegisterSuccess])
	require.Equal(t, uint64(1), snap.Counters[authcore.MetricLoginSuccess])
	require.Equal(t, uint64(1), snap.Counters[authcore.MetricLoginFailure])
	require.Equal(t, uint64(2), snap.Counters[authcore.MetricSessionCreated])
}

func TestEngineSurvivesRedisOutage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "a@x.com", "Abc12345")

	h.redis.Close()

	res, err := h.engine.Login(ctx, authcore.LoginRequest{Email: "a@x.com", Password: "Abc12345"})
	require.NoError(t, err)
	_, err = h.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	require.NoError(t, h.engine.Logout(ctx, res.Tokens.AccessToken, res.Tokens.RefreshToken))
	_, err = h.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)

	require.Greater(t, h.engine.MetricsSnapshot().Counters[authcore.MetricStoreDegraded], uint64(0))
}

func TestBuildWithoutRedis(t *testing.T) {
	engine, err := authcore.New().WithConfig(testConfig()).WithUserStore(memory.New()).Build()
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	reg, err := engine.Register(ctx, authcore.RegisterRequest{Email: "a@x.com", Password: "Abc12345"})
	require.NoError(t, err)
	_, err = engine.Refresh(ctx, reg.Tokens.RefreshToken)
	require.NoError(t, err)
}

func TestBuildValidation(t *testing.T) {
	_, err := authcore.New().WithConfig(testConfig()).Build()
	require.Error(t, err)

	cfg := testConfig()
	cfg.Security.Pepper = []byte("short")
	_, err = authcore.New().WithConfig(cfg).WithUserStore(memory.New()).Build()
	require.Error(t, err)

	cfg = testConfig()
	cfg.JWT.AccessKey = bytes.Repeat([]byte("k"), 8)
	_, err = authcore.New().WithConfig(cfg).WithUserStore(memory.New()).Build()
	require.Error(t, err)

	b := authcore.New().WithConfig(testConfig()).WithUserStore(memory.New())
	engine, err := b.Build()
	require.NoError(t, err)
	engine.Close()
	_, err = b.Build()
	require.Error(t, err)
}

func TestNilEngine(t *testing.T) {
	var e *authcore.Engine
	_, err := e.Login(context.Background(), authcore.LoginRequest{})
	require.ErrorIs(t, err, authcore.ErrEngineNotReady)
	_, err = e.VerifyAccess(context.Background(), "a.b.c")
	require.ErrorIs(t, err, authcore.ErrEngineNotReady)
	require.ErrorIs(t, e.TouchSession(context.Background(), "u", "s"), authcore.ErrEngineNotReady)
	e.Close()
}
