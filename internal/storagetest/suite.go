// Package storagetest is a conformance suite run against every storage backend.
package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh backend for one test.
type Factory func(t *testing.T) *domain.Repositories

// RunAll runs every conformance test against the backend.
func RunAll(t *testing.T, newRepos Factory) {
	t.Run("Clients", func(t *testing.T) { TestClients(t, newRepos(t)) })
	t.Run("AuthCodes", func(t *testing.T) { TestAuthCodes(t, newRepos(t)) })
	t.Run("AuthCodeConcurrentConsume", func(t *testing.T) { TestAuthCodeConcurrentConsume(t, newRepos(t)) })
	t.Run("Tokens", func(t *testing.T) { TestTokens(t, newRepos(t)) })
	t.Run("TokenConcurrentRotation", func(t *testing.T) { TestTokenConcurrentRotation(t, newRepos(t)) })
	t.Run("TwoFactor", func(t *testing.T) { TestTwoFactor(t, newRepos(t)) })
	t.Run("TwoFactorConcurrentFailures", func(t *testing.T) { TestTwoFactorConcurrentFailures(t, newRepos(t)) })
	t.Run("Roles", func(t *testing.T) { TestRoles(t, newRepos(t)) })
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newClient(name string) *domain.Client {
	ts := now()
	return &domain.Client{
		ID:           uuid.NewString(),
		SecretHash:   "$2a$04$hash",
		Name:         name,
		HomepageURL:  "https://app.example",
		RedirectURIs: []string{"https://app.example/cb"},
		Scopes:       []string{"openid", "profile"},
		Status:       domain.ClientStatusActive,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

func TestClients(t *testing.T, repos *domain.Repositories) {
	ctx := context.Background()
	r := repos.Clients

	c := newClient("first")
	require.NoError(t, r.CreateClient(ctx, c))
	assert.ErrorIs(t, r.CreateClient(ctx, c), domain.ErrConflict)

	got, err := r.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, c.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, c.Scopes, got.Scopes)
	assert.Equal(t, c.SecretHash, got.SecretHash)
	assert.True(t, got.IsActive())

	list, err := r.ListClients(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, l := range list {
		ids = append(ids, l.ID)
	}
	assert.Contains(t, ids, c.ID)

	require.NoError(t, r.SetClientStatus(ctx, c.ID, domain.ClientStatusDisabled, now()))
	got, err = r.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive())

	assert.ErrorIs(t, r.SetClientStatus(ctx, "missing", domain.ClientStatusDisabled, now()), domain.ErrNotFound)

	require.NoError(t, r.DeleteClient(ctx, c.ID))
	_, err = r.GetClient(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, r.DeleteClient(ctx, c.ID), domain.ErrNotFound)
}

func newCode(clientID string, issued time.Time) *domain.AuthCode {
	return &domain.AuthCode{
		CodeHash:    uuid.NewString(),
		ClientID:    clientID,
		UserID:      "user-1",
		RedirectURI: "https://app.example/cb",
		Scope:       "openid",
		ExpiresAt:   issued.Add(5 * time.Minute),
		CreatedAt:   issued,
	}
}

func TestAuthCodes(t *testing.T, repos *domain.Repositories) {
	ctx := context.Background()
	r := repos.AuthCodes
	issued := now()

	t.Run("consume once", func(t *testing.T) {
		c := newCode("client-a", issued)
		require.NoError(t, r.SaveAuthCode(ctx, c))

		p := domain.ConsumeCodeParams{CodeHash: c.CodeHash, ClientID: "client-a", RedirectURI: c.RedirectURI, Now: issued.Add(time.Minute)}
		got, err := r.ConsumeAuthCode(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, "openid", got.Scope)

		_, err = r.ConsumeAuthCode(ctx, p)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("mismatches leave the code unconsumed", func(t *testing.T) {
		c := newCode("client-a", issued)
		require.NoError(t, r.SaveAuthCode(ctx, c))
		at := issued.Add(time.Minute)

		_, err := r.ConsumeAuthCode(ctx, domain.ConsumeCodeParams{CodeHash: c.CodeHash, ClientID: "client-b", Now: at})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = r.ConsumeAuthCode(ctx, domain.ConsumeCodeParams{CodeHash: c.CodeHash, ClientID: "client-a", RedirectURI: "https://evil.example/cb", Now: at})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = r.ConsumeAuthCode(ctx, domain.ConsumeCodeParams{CodeHash: c.CodeHash, ClientID: "client-a", Now: at})
		assert.NoError(t, err, "redirect is only checked when supplied")
	})

	t.Run("expiry boundary", func(t *testing.T) {
		live := newCode("client-a", issued)
		dead := newCode("client-a", issued)
		require.NoError(t, r.SaveAuthCode(ctx, live))
		require.NoError(t, r.SaveAuthCode(ctx, dead))

		_, err := r.ConsumeAuthCode(ctx, domain.ConsumeCodeParams{CodeHash: dead.CodeHash, ClientID: "client-a", Now: issued.Add(5*time.Minute + time.Second)})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = r.ConsumeAuthCode(ctx, domain.ConsumeCodeParams{CodeHash: live.CodeHash, ClientID: "client-a", Now: issued.Add(4*time.Minute + 59*time.Second)})
		assert.NoError(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := r.ConsumeAuthCode(ctx, domain.ConsumeCodeParams{CodeHash: "nope", ClientID: "client-a", Now: issued})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("release", func(t *testing.T) {
		c := newCode("client-a", issued)
		require.NoError(t, r.SaveAuthCode(ctx, c))
		assert.ErrorIs(t, r.ReleaseAuthCode(ctx, c.CodeHash), domain.ErrNotFound, "an unconsumed code has nothing to release")

		p := domain.ConsumeCodeParams{CodeHash: c.CodeHash, ClientID: "client-a", Now: issued.Add(time.Minute)}
		_, err := r.ConsumeAuthCode(ctx, p)
		require.NoError(t, err)
		require.NoError(t, r.ReleaseAuthCode(ctx, c.CodeHash))

		got, err := r.ConsumeAuthCode(ctx, p)
		require.NoError(t, err)
		assert.True(t, got.Used)

		assert.ErrorIs(t, r.ReleaseAuthCode(ctx, "nope"), domain.ErrNotFound)
	})

	t.Run("purge", func(t *testing.T) {
		old := newCode("client-purge", issued.Add(-48*time.Hour))
		require.NoError(t, r.SaveAuthCode(ctx, old))
		n, err := r.DeleteExpiredAuthCodes(ctx, issued.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))
	})
}

func TestAuthCodeConcurrentConsume(t *testing.T, repos *domain.Repositories) {
	ctx := context.Background()
	issued := now()
	c := newCode("client-a", issued)
	require.NoError(t, repos.AuthCodes.SaveAuthCode(ctx, c))

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.AuthCodes.ConsumeAuthCode(ctx, domain.ConsumeCodeParams{CodeHash: c.CodeHash, ClientID: "client-a", Now: issued.Add(time.Second)})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func newToken(kind domain.TokenKind, clientID string, issued time.Time, ttl time.Duration, epoch int64) *domain.Token {
	return &domain.Token{
		ID:        uuid.NewString(),
		Kind:      kind,
		TokenHash: uuid.NewString(),
		ClientID:  clientID,
		UserID:    "user-1",
		Scope:     "openid",
		Epoch:     epoch,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
	}
}

func TestTokens(t *testing.T, repos *domain.Repositories) {
	ctx := context.Background()
	r := repos.Tokens
	issued := now()

	epoch, err := r.CurrentEpoch(ctx)
	require.NoError(t, err)

	access := newToken(domain.TokenKindAccess, "client-a", issued, time.Hour, epoch)
	refresh := newToken(domain.TokenKindRefresh, "client-a", issued, 30*24*time.Hour, epoch)
	require.NoError(t, r.StoreTokens(ctx, access, refresh))

	got, err := r.GetToken(ctx, access.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenKindAccess, got.Kind)
	assert.False(t, got.Revoked)

	_, err = r.GetToken(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	t.Run("rotate", func(t *testing.T) {
		at := issued.Add(time.Minute)
		a2 := newToken(domain.TokenKindAccess, "client-a", at, time.Hour, epoch)
		r2 := newToken(domain.TokenKindRefresh, "client-a", at, 30*24*time.Hour, epoch)
		r2.ParentID = refresh.ID

		wrongClient := domain.RotateParams{OldHash: refresh.TokenHash, ClientID: "client-b", Now: at, MinEpoch: epoch, Access: a2, Refresh: r2}
		assert.ErrorIs(t, r.RotateRefreshToken(ctx, wrongClient), domain.ErrNotFound)

		p := domain.RotateParams{OldHash: refresh.TokenHash, ClientID: "client-a", Now: at, MinEpoch: epoch, Access: a2, Refresh: r2}
		require.NoError(t, r.RotateRefreshToken(ctx, p))

		old, err := r.GetToken(ctx, refresh.TokenHash)
		require.NoError(t, err)
		assert.True(t, old.Revoked)

		succ, err := r.GetToken(ctx, r2.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, refresh.ID, succ.ParentID)

		a3 := newToken(domain.TokenKindAccess, "client-a", at, time.Hour, epoch)
		r3 := newToken(domain.TokenKindRefresh, "client-a", at, time.Hour, epoch)
		again := domain.RotateParams{OldHash: refresh.TokenHash, Now: at, MinEpoch: epoch, Access: a3, Refresh: r3}
		assert.ErrorIs(t, r.RotateRefreshToken(ctx, again), domain.ErrNotFound)

		_, err = r.GetToken(ctx, r3.TokenHash)
		assert.ErrorIs(t, err, domain.ErrNotFound, "losing rotation must not insert a successor")

		stillAccess, err := r.GetToken(ctx, access.TokenHash)
		require.NoError(t, err)
		assert.False(t, stillAccess.Revoked, "rotation leaves the sibling access token alone")
	})

	t.Run("failed successor insert keeps the old refresh token", func(t *testing.T) {
		at := issued.Add(time.Minute)
		parent := newToken(domain.TokenKindRefresh, "client-a", issued, 30*24*time.Hour, epoch)
		require.NoError(t, r.StoreTokens(ctx, parent))

		clash := newToken(domain.TokenKindAccess, "client-a", at, time.Hour, epoch)
		clash.TokenHash = access.TokenHash
		p := domain.RotateParams{
			OldHash: parent.TokenHash, ClientID: "client-a", Now: at, MinEpoch: epoch,
			Access:  clash,
			Refresh: newToken(domain.TokenKindRefresh, "client-a", at, time.Hour, epoch),
		}
		require.Error(t, r.RotateRefreshToken(ctx, p))

		old, err := r.GetToken(ctx, parent.TokenHash)
		require.NoError(t, err)
		assert.False(t, old.Revoked)
		_, err = r.GetToken(ctx, p.Refresh.TokenHash)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		p.Access = newToken(domain.TokenKindAccess, "client-a", at, time.Hour, epoch)
		assert.NoError(t, r.RotateRefreshToken(ctx, p), "the old token is still redeemable")
	})

	t.Run("access tokens cannot be rotated", func(t *testing.T) {
		at := issued.Add(time.Minute)
		p := domain.RotateParams{
			OldHash: access.TokenHash, Now: at, MinEpoch: epoch,
			Access:  newToken(domain.TokenKindAccess, "client-a", at, time.Hour, epoch),
			Refresh: newToken(domain.TokenKindRefresh, "client-a", at, time.Hour, epoch),
		}
		assert.ErrorIs(t, r.RotateRefreshToken(ctx, p), domain.ErrNotFound)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		at := issued.Add(2 * time.Minute)
		require.NoError(t, r.RevokeToken(ctx, access.TokenHash, at))
		require.NoError(t, r.RevokeToken(ctx, access.TokenHash, at))
		require.NoError(t, r.RevokeToken(ctx, "never-issued", at))

		got, err := r.GetToken(ctx, access.TokenHash)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
	})

	t.Run("revoke client tokens", func(t *testing.T) {
		clientID := uuid.NewString()
		a := newToken(domain.TokenKindAccess, clientID, issued, time.Hour, epoch)
		rf := newToken(domain.TokenKindRefresh, clientID, issued, time.Hour, epoch)
		require.NoError(t, r.StoreTokens(ctx, a, rf))

		n, err := r.RevokeClientTokens(ctx, clientID, issued)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("epoch", func(t *testing.T) {
		before, err := r.CurrentEpoch(ctx)
		require.NoError(t, err)
		after, err := r.BumpEpoch(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)

		cur, err := r.CurrentEpoch(ctx)
		require.NoError(t, err)
		assert.Equal(t, after, cur)

		stale := newToken(domain.TokenKindRefresh, "client-a", issued, time.Hour, before)
		require.NoError(t, r.StoreTokens(ctx, stale))
		at := issued.Add(time.Second)
		p := domain.RotateParams{
			OldHash: stale.TokenHash, Now: at, MinEpoch: cur,
			Access:  newToken(domain.TokenKindAccess, "client-a", at, time.Hour, cur),
			Refresh: newToken(domain.TokenKindRefresh, "client-a", at, time.Hour, cur),
		}
		assert.ErrorIs(t, r.RotateRefreshToken(ctx, p), domain.ErrNotFound)
	})

	t.Run("purge", func(t *testing.T) {
		old := newToken(domain.TokenKindAccess, "client-purge", issued.Add(-72*time.Hour), time.Hour, epoch)
		require.NoError(t, r.StoreTokens(ctx, old))
		n, err := r.DeleteExpiredTokens(ctx, issued.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))
		_, err = r.GetToken(ctx, old.TokenHash)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestTokenConcurrentRotation(t *testing.T, repos *domain.Repositories) {
	ctx := context.Background()
	r := repos.Tokens
	issued := now()
	epoch, err := r.CurrentEpoch(ctx)
	require.NoError(t, err)

	refresh := newToken(domain.TokenKindRefresh, "client-a", issued, time.Hour, epoch)
	require.NoError(t, r.StoreTokens(ctx, refresh))

	const workers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			at := issued.Add(time.Second)
			err := r.RotateRefreshToken(ctx, domain.RotateParams{
				OldHash: refresh.TokenHash, Now: at, MinEpoch: epoch,
				Access:  newToken(domain.TokenKindAccess, "client-a", at, time.Hour, epoch),
				Refresh: newToken(domain.TokenKindRefresh, "client-a", at, time.Hour, epoch),
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func newSetup(userID string, at time.Time) *domain.TwoFactorSettings {
	return &domain.TwoFactorSettings{
		UserID:           userID,
		Secret:           "JBSWY3DPEHPK3PXP",
		BackupCodeHashes: []string{"h1", "h2", "h3"},
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

func TestTwoFactor(t *testing.T, repos *domain.Repositories) {
	ctx := context.Background()
	r := repos.TwoFactor
	at := now()
	userID := uuid.NewString()
	policy := domain.FailurePolicy{MaxAttempts: 5, Lockout: 15 * time.Minute}

	_, err := r.GetTwoFactor(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, r.SaveSetup(ctx, newSetup(userID, at)))
	require.NoError(t, r.SaveSetup(ctx, newSetup(userID, at)), "pending setup may be overwritten")

	assert.ErrorIs(t, r.EnableTwoFactor(ctx, userID, "OTHERSECRET", at), domain.ErrConflict)
	require.NoError(t, r.EnableTwoFactor(ctx, userID, "JBSWY3DPEHPK3PXP", at))
	assert.ErrorIs(t, r.EnableTwoFactor(ctx, userID, "JBSWY3DPEHPK3PXP", at), domain.ErrConflict)
	assert.ErrorIs(t, r.SaveSetup(ctx, newSetup(userID, at)), domain.ErrConflict)

	s, err := r.GetTwoFactor(ctx, userID)
	require.NoError(t, err)
	assert.True(t, s.Enabled)
	require.NotNil(t, s.EnabledAt)

	t.Run("lockout", func(t *testing.T) {
		var last *domain.TwoFactorSettings
		for i := 1; i <= 5; i++ {
			last, err = r.RecordFailure(ctx, userID, at, policy)
			require.NoError(t, err)
			assert.Equal(t, i, last.FailedAttempts)
		}
		require.NotNil(t, last.LockoutUntil)
		assert.True(t, last.LockedAt(at))
		assert.WithinDuration(t, at.Add(15*time.Minute), *last.LockoutUntil, time.Millisecond)

		later := at.Add(16 * time.Minute)
		again, err := r.RecordFailure(ctx, userID, later, policy)
		require.NoError(t, err)
		assert.Equal(t, 1, again.FailedAttempts, "counter restarts after an elapsed lockout")
		assert.Nil(t, again.LockoutUntil)

		require.NoError(t, r.RecordSuccess(ctx, userID, later))
		s, err := r.GetTwoFactor(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 0, s.FailedAttempts)
		assert.Nil(t, s.LockoutUntil)
		require.NotNil(t, s.LastVerifiedAt)
	})

	t.Run("backup codes", func(t *testing.T) {
		remaining, err := r.ConsumeBackupCode(ctx, userID, "h2", at)
		require.NoError(t, err)
		assert.Equal(t, 2, remaining)

		_, err = r.ConsumeBackupCode(ctx, userID, "h2", at)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, r.ReplaceBackupCodes(ctx, userID, []string{"n1", "n2"}, at))
		_, err = r.ConsumeBackupCode(ctx, userID, "h1", at)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		remaining, err = r.ConsumeBackupCode(ctx, userID, "n1", at)
		require.NoError(t, err)
		assert.Equal(t, 1, remaining)
	})

	require.NoError(t, r.DeleteTwoFactor(ctx, userID))
	_, err = r.GetTwoFactor(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTwoFactorConcurrentFailures(t *testing.T, repos *domain.Repositories) {
	ctx := context.Background()
	r := repos.TwoFactor
	at := now()
	userID := uuid.NewString()
	require.NoError(t, r.SaveSetup(ctx, newSetup(userID, at)))
	require.NoError(t, r.EnableTwoFactor(ctx, userID, "JBSWY3DPEHPK3PXP", at))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.RecordFailure(ctx, userID, at, domain.FailurePolicy{MaxAttempts: 5, Lockout: time.Hour})
		}()
	}
	wg.Wait()

	s, err := r.GetTwoFactor(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, workers, s.FailedAttempts)
	assert.True(t, s.LockedAt(at))
}

func TestRoles(t *testing.T, repos *domain.Repositories) {
	ctx := context.Background()
	r := repos.Roles
	clientID := uuid.NewString()
	at := now()

	owner := &domain.AppRoleAssignment{UserID: "u1", ClientID: clientID, Role: "product_owner", Singleton: true, CreatedAt: at, UpdatedAt: at}
	require.NoError(t, r.UpsertAssignment(ctx, owner))
	require.NoError(t, r.UpsertAssignment(ctx, owner), "the holder may be re-upserted")

	second := &domain.AppRoleAssignment{UserID: "u2", ClientID: clientID, Role: "product_owner", Singleton: true, CreatedAt: at, UpdatedAt: at}
	assert.ErrorIs(t, r.UpsertAssignment(ctx, second), domain.ErrSingletonRoleTaken)

	otherClient := *second
	otherClient.ClientID = uuid.NewString()
	require.NoError(t, r.UpsertAssignment(ctx, &otherClient), "singleton is scoped per client")

	member := &domain.AppRoleAssignment{UserID: "u2", ClientID: clientID, Role: "member", Permissions: "app:read", CreatedAt: at, UpdatedAt: at}
	require.NoError(t, r.UpsertAssignment(ctx, member))

	got, err := r.GetAssignment(ctx, "u2", clientID)
	require.NoError(t, err)
	assert.Equal(t, "member", got.Role)
	assert.Equal(t, "app:read", got.Permissions)

	list, err := r.ListAssignments(ctx, clientID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, r.DeleteAssignment(ctx, "u1", clientID))
	assert.ErrorIs(t, r.DeleteAssignment(ctx, "u1", clientID), domain.ErrNotFound)
	require.NoError(t, r.UpsertAssignment(ctx, second), "singleton is free again")

	role := "role-" + uuid.NewString()
	require.NoError(t, r.GrantPermission(ctx, role, "app:write"))
	require.NoError(t, r.GrantPermission(ctx, role, "app:read"))
	require.NoError(t, r.GrantPermission(ctx, role, "app:read"))
	perms, err := r.ListRolePermissions(ctx, role)
	require.NoError(t, err)
	assert.Equal(t, []string{"app:read", "app:write"}, perms)

	require.NoError(t, r.RevokePermission(ctx, role, "app:write"))
	perms, err = r.ListRolePermissions(ctx, role)
	require.NoError(t, err)
	assert.Equal(t, []string{"app:read"}, perms)
}
