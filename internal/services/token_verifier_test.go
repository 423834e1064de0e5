package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/tokenwarden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenVerifier_Verify_ValidityWindow(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"fresh", 0, nil},
		{"14m59s", 14*time.Minute + 59*time.Second, nil},
		{"exactly 15m", 15 * time.Minute, models.ErrExpired},
		{"15m01s", 15*time.Minute + time.Second, models.ErrExpired},
		{"a day later", 24 * time.Hour, models.ErrExpired},
	}

	for _, kind := range []models.TokenKind{models.TokenKindEmailVerification, models.TokenKindPasswordReset} {
		for _, tt := range tests {
			t.Run(string(kind)+"/"+tt.name, func(t *testing.T) {
				f := newTokenFixture()
				ctx := context.Background()

				token, err := f.issuer.Issue(ctx, alice, kind, "")
				require.NoError(t, err)

				f.at(tt.elapsed)
				result, err := f.verifier.Verify(ctx, kind, token.Code, alice)

				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
					require.NotNil(t, result)
					assert.False(t, result.Valid)
					assert.True(t, result.SubjectMatches)
					return
				}
				require.NoError(t, err)
				assert.True(t, result.Valid)
				assert.Equal(t, token.ID, result.Record.ID)
			})
		}
	}
}

func TestTokenVerifier_Verify_UnknownCode(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, alice, models.TokenKindEmailVerification, "")
	require.NoError(t, err)

	_, err = f.verifier.Verify(ctx, models.TokenKindEmailVerification, "not-a-code", alice)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.verifier.Verify(ctx, models.TokenKindEmailVerification, "", alice)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTokenVerifier_Verify_SubjectMismatch(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	token, err := f.issuer.Issue(ctx, alice, models.TokenKindEmailVerification, "")
	require.NoError(t, err)

	result, err := f.verifier.Verify(ctx, models.TokenKindEmailVerification, token.Code, "mallory@example.com")
	assert.ErrorIs(t, err, models.ErrSubjectMismatch)
	require.NotNil(t, result)
	assert.False(t, result.SubjectMatches)
	assert.False(t, result.Valid)
}

func TestTokenVerifier_Verify_ResetCodeForOtherSubjectIsNotFound(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	token, err := f.issuer.Issue(ctx, alice, models.TokenKindPasswordReset, "")
	require.NoError(t, err)

	_, err = f.verifier.Verify(ctx, models.TokenKindPasswordReset, token.Code, "mallory@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTokenVerifier_Verify_ExpiredForeignCodeIsNotFound(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	token, err := f.issuer.Issue(ctx, alice, models.TokenKindEmailVerification, "")
	require.NoError(t, err)

	f.at(time.Hour)
	_, err = f.verifier.Verify(ctx, models.TokenKindEmailVerification, token.Code, "mallory@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTokenVerifier_Verify_SharedCodePrefersSubject(t *testing.T) {
	// Two subjects hold the same six digit code
	store := &MockTokenStore{
		FindByCodeHashFunc: func(ctx context.Context, kind models.TokenKind, codeHash string) ([]*models.Token, error) {
			return []*models.Token{
				{ID: "bob", SubjectKey: "bob@example.com", Active: true, CreatedAt: testEpoch.Add(time.Minute)},
				{ID: "alice", SubjectKey: alice, Active: true, CreatedAt: testEpoch},
			}, nil
		},
	}
	verifier := NewTokenVerifier(store, newFakeClock(testEpoch.Add(2*time.Minute)), 15*time.Minute, testLogger())

	result, err := verifier.Verify(context.Background(), models.TokenKindEmailVerification, "424242", alice)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "alice", result.Record.ID)
}

func TestTokenVerifier_Verify_StoreError(t *testing.T) {
	boom := errors.New("timeout")
	store := &MockTokenStore{
		FindByCodeHashFunc: func(ctx context.Context, kind models.TokenKind, codeHash string) ([]*models.Token, error) {
			return nil, boom
		},
	}
	verifier := NewTokenVerifier(store, newFakeClock(testEpoch), 15*time.Minute, testLogger())

	_, err := verifier.Verify(context.Background(), models.TokenKindEmailVerification, "123456", alice)
	assert.ErrorIs(t, err, boom)
}

func TestTokenVerifier_Consume_SingleUse(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	token, err := f.issuer.Issue(ctx, alice, models.TokenKindPasswordReset, "")
	require.NoError(t, err)

	f.at(time.Minute)
	result, err := f.verifier.Verify(ctx, models.TokenKindPasswordReset, token.Code, alice)
	require.NoError(t, err)
	require.NoError(t, f.verifier.Consume(ctx, result.Record))
	assert.ErrorIs(t, f.verifier.Consume(ctx, result.Record), models.ErrAlreadyConsumed)

	_, err = f.verifier.Verify(ctx, models.TokenKindPasswordReset, token.Code, alice)
	assert.ErrorIs(t, err, models.ErrNotFound)

	all := f.store.all()
	require.Len(t, all, 1)
	require.NotNil(t, all[0].ConsumedAt)
	assert.Equal(t, testEpoch.Add(time.Minute), *all[0].ConsumedAt)
}

func TestTokenVerifier_Consume_ConcurrentOnlyOneWins(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	token, err := f.issuer.Issue(ctx, alice, models.TokenKindEmailVerification, "")
	require.NoError(t, err)
	result, err := f.verifier.Verify(ctx, models.TokenKindEmailVerification, token.Code, alice)
	require.NoError(t, err)

	var wins, consumed int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record := *result.Record
			err := f.verifier.Consume(ctx, &record)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, models.ErrAlreadyConsumed):
				atomic.AddInt32(&consumed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(9), consumed)
}

func TestTokenVerifier_Consume_SupersededAfterVerify(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	first, err := f.issuer.Issue(ctx, alice, models.TokenKindEmailVerification, "")
	require.NoError(t, err)
	result, err := f.verifier.Verify(ctx, models.TokenKindEmailVerification, first.Code, alice)
	require.NoError(t, err)

	// A resend lands between Verify and Consume
	second, err := f.issuer.Issue(ctx, alice, models.TokenKindEmailVerification, "")
	require.NoError(t, err)

	assert.ErrorIs(t, f.verifier.Consume(ctx, result.Record), models.ErrAlreadyConsumed)

	fresh, err := f.verifier.Verify(ctx, models.TokenKindEmailVerification, second.Code, alice)
	require.NoError(t, err, "the newer code must stay usable")
	assert.True(t, fresh.Valid)
	for _, tok := range f.store.all() {
		assert.Nil(t, tok.ConsumedAt, "nothing was consumed")
	}
}

func TestTokenVerifier_Release(t *testing.T) {
	ctx := context.Background()

	t.Run("restores a consumed code", func(t *testing.T) {
		f := newTokenFixture()
		token, err := f.issuer.Issue(ctx, alice, models.TokenKindPasswordReset, "")
		require.NoError(t, err)
		result, err := f.verifier.Verify(ctx, models.TokenKindPasswordReset, token.Code, alice)
		require.NoError(t, err)
		require.NoError(t, f.verifier.Consume(ctx, result.Record))

		require.NoError(t, f.verifier.Release(ctx, result.Record))

		again, err := f.verifier.Verify(ctx, models.TokenKindPasswordReset, token.Code, alice)
		require.NoError(t, err)
		assert.True(t, again.Valid)
		assert.Nil(t, again.Record.ConsumedAt)
	})

	t.Run("keeps it consumed once a newer code exists", func(t *testing.T) {
		f := newTokenFixture()
		token, err := f.issuer.Issue(ctx, alice, models.TokenKindPasswordReset, "")
		require.NoError(t, err)
		result, err := f.verifier.Verify(ctx, models.TokenKindPasswordReset, token.Code, alice)
		require.NoError(t, err)
		require.NoError(t, f.verifier.Consume(ctx, result.Record))

		f.at(time.Minute)
		_, err = f.issuer.Issue(ctx, alice, models.TokenKindPasswordReset, "")
		require.NoError(t, err)

		assert.ErrorIs(t, f.verifier.Release(ctx, result.Record), models.ErrNotFound)
		_, err = f.verifier.Verify(ctx, models.TokenKindPasswordReset, token.Code, alice)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("no-op when never consumed", func(t *testing.T) {
		f := newTokenFixture()
		assert.NoError(t, f.verifier.Release(ctx, &models.Token{ID: "tok-9", SubjectKey: alice}))
	})
}
