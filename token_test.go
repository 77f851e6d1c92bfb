package uasc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/uasc/crypto"
)

// fakeClock is a TimeProvider under test control.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (f *fakeClock) Now() time.Time                  { return f.now }
func (f *fakeClock) Since(t time.Time) time.Duration { return f.now.Sub(t) }
func (f *fakeClock) advance(d time.Duration)         { f.now = f.now.Add(d) }

func testTokenManagers(t *testing.T, clock TimeProvider) (client, server *tokenManager, provider crypto.Provider) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Policy = crypto.PolicyBasic256Sha256
	cfg.Mode = crypto.ModeSignAndEncrypt
	cfg.Time = clock
	provider, err := crypto.NewProvider(cfg.Policy)
	require.NoError(t, err)
	return newTokenManager(provider, cfg, true), newTokenManager(provider, cfg, false), provider
}

func testNonces(t *testing.T) (clientNonce, serverNonce []byte) {
	t.Helper()
	cn, err := crypto.NewNonce(crypto.PolicyBasic256Sha256)
	require.NoError(t, err)
	sn, err := crypto.NewNonce(crypto.PolicyBasic256Sha256)
	require.NoError(t, err)
	return cn, sn
}

func TestTokenKeysMirrorAcrossRoles(t *testing.T) {
	clock := newFakeClock()
	client, server, _ := testTokenManagers(t, clock)
	cn, sn := testNonces(t)

	ct := client.activate(1, clock.Now(), time.Hour, cn, sn)
	st := server.activate(1, clock.Now(), time.Hour, cn, sn)

	// What one side sends with, the other verifies with.
	assert.Equal(t, ct.LocalKeys.Signing, st.RemoteKeys.Signing)
	assert.Equal(t, ct.RemoteKeys.Encrypting, st.LocalKeys.Encrypting)
	assert.NotEqual(t, ct.LocalKeys.Signing, ct.RemoteKeys.Signing)
}

func TestTokenManagerKeysFor(t *testing.T) {
	clock := newFakeClock()
	client, _, _ := testTokenManagers(t, clock)
	cn, sn := testNonces(t)
	token := client.activate(1, clock.Now(), time.Hour, cn, sn)

	keys, err := client.keysFor(1)
	require.NoError(t, err)
	assert.Equal(t, token.RemoteKeys, keys)

	_, err = client.keysFor(99)
	assert.Error(t, err)
}

func TestTokenGraceWindow(t *testing.T) {
	clock := newFakeClock()
	client, _, _ := testTokenManagers(t, clock)
	cn1, sn1 := testNonces(t)
	cn2, sn2 := testNonces(t)

	client.activate(1, clock.Now(), time.Hour, cn1, sn1)
	client.activate(2, clock.Now(), time.Hour, cn2, sn2)

	// The superseded token stays valid on receive through its lifetime
	// plus the grace fraction.
	_, err := client.keysFor(1)
	assert.NoError(t, err, "previous token inside grace window")

	clock.advance(74 * time.Minute)
	_, err = client.keysFor(1)
	assert.NoError(t, err, "previous token still inside grace window")

	clock.advance(2 * time.Minute)
	_, err = client.keysFor(1)
	assert.Error(t, err, "previous token past grace window")

	// The current token is unaffected.
	_, err = client.keysFor(2)
	assert.NoError(t, err)
}

func TestTokenSupersededTwiceIsRejected(t *testing.T) {
	clock := newFakeClock()
	client, _, _ := testTokenManagers(t, clock)

	for id := uint32(1); id <= 3; id++ {
		cn, sn := testNonces(t)
		client.activate(id, clock.Now(), time.Hour, cn, sn)
	}

	_, err := client.keysFor(1)
	assert.Error(t, err, "twice-superseded token must be unknown")
	_, err = client.keysFor(2)
	assert.NoError(t, err)
	_, err = client.keysFor(3)
	assert.NoError(t, err)
}

func TestTokenShouldRenew(t *testing.T) {
	clock := newFakeClock()
	client, _, _ := testTokenManagers(t, clock)
	cn, sn := testNonces(t)
	client.activate(1, clock.Now(), time.Hour, cn, sn)

	assert.False(t, client.shouldRenew())
	clock.advance(44 * time.Minute)
	assert.False(t, client.shouldRenew())
	clock.advance(2 * time.Minute)
	assert.True(t, client.shouldRenew(), "renew due after 75% of lifetime")
}

func TestTokenExpired(t *testing.T) {
	clock := newFakeClock()
	client, _, _ := testTokenManagers(t, clock)
	cn, sn := testNonces(t)
	client.activate(1, clock.Now(), time.Hour, cn, sn)

	assert.False(t, client.expired())
	clock.advance(time.Hour + time.Second)
	assert.True(t, client.expired())
}

func TestTokenKeysForRejectsExpiredCurrent(t *testing.T) {
	clock := newFakeClock()
	client, _, _ := testTokenManagers(t, clock)
	cn, sn := testNonces(t)
	client.activate(1, clock.Now(), time.Hour, cn, sn)

	_, err := client.keysFor(1)
	require.NoError(t, err)

	clock.advance(10 * time.Hour)
	_, err = client.keysFor(1)
	assert.ErrorIs(t, err, ErrTokenExpired, "expired current token must be rejected")
}

func TestTokenManagerWipe(t *testing.T) {
	clock := newFakeClock()
	client, _, _ := testTokenManagers(t, clock)
	cn, sn := testNonces(t)
	token := client.activate(1, clock.Now(), time.Hour, cn, sn)

	client.wipe()
	assert.Equal(t, make([]byte, len(token.LocalKeys.Signing)), token.LocalKeys.Signing)
	_, err := client.keysFor(1)
	assert.Error(t, err)
	_, err = client.sendToken()
	assert.ErrorIs(t, err, ErrChannelNotOpen)
}
