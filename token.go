package uasc

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/uasc/crypto"
)

// SecurityToken is one cryptographic key epoch of a channel. LocalKeys
// secure what this side sends; RemoteKeys verify and decrypt what the
// peer sends.
type SecurityToken struct {
	ID         uint32
	CreatedAt  time.Time
	Lifetime   time.Duration
	LocalKeys  *crypto.DerivedKeys
	RemoteKeys *crypto.DerivedKeys
}

// ExpiresAt returns the nominal end of the token's lifetime.
func (t *SecurityToken) ExpiresAt() time.Time {
	return t.CreatedAt.Add(t.Lifetime)
}

func (t *SecurityToken) wipe() {
	if t == nil {
		return
	}
	t.LocalKeys.Wipe()
	t.RemoteKeys.Wipe()
}

// tokenManager owns the current and, during the grace window after a
// renewal, the previous security token of one channel. All methods are
// safe for concurrent use; none performs I/O, so the internal lock is
// never held across a suspension point.
type tokenManager struct {
	provider      crypto.Provider
	clock         TimeProvider
	client        bool
	renewFraction float64
	graceFraction float64
	log           *logrus.Logger

	mu       sync.Mutex
	current  *SecurityToken
	previous *SecurityToken
}

func newTokenManager(provider crypto.Provider, cfg *Config, client bool) *tokenManager {
	return &tokenManager{
		provider:      provider,
		clock:         cfg.clock(),
		client:        client,
		renewFraction: cfg.renewFraction(),
		graceFraction: cfg.graceFraction(),
		log:           cfg.logger(),
	}
}

// activate derives both directions' keys from the exchanged nonces and
// installs the result as the current token. The superseded token moves to
// the grace slot; the token it displaces is wiped.
//
// Key directionality follows the protocol's PRF convention: the keys a
// side sends with are derived with the peer's nonce as the secret and its
// own nonce as the seed.
func (m *tokenManager) activate(id uint32, createdAt time.Time, lifetime time.Duration, clientNonce, serverNonce []byte) *SecurityToken {
	clientKeys := m.provider.DeriveKeys(serverNonce, clientNonce)
	serverKeys := m.provider.DeriveKeys(clientNonce, serverNonce)

	token := &SecurityToken{
		ID:        id,
		CreatedAt: createdAt,
		Lifetime:  lifetime,
	}
	if m.client {
		token.LocalKeys, token.RemoteKeys = clientKeys, serverKeys
	} else {
		token.LocalKeys, token.RemoteKeys = serverKeys, clientKeys
	}

	m.mu.Lock()
	m.previous.wipe()
	m.previous = m.current
	m.current = token
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"token_id": id,
		"lifetime": lifetime,
	}).Debug("Activated security token")
	return token
}

// sendToken returns the token securing outbound chunks: always the
// current one.
func (m *tokenManager) sendToken() (*SecurityToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrChannelNotOpen
	}
	return m.current, nil
}

// keysFor returns the verification/decryption keys for a received token
// id. The current token is accepted until it expires; the previous token
// only while its grace window lasts. Anything else is unknown.
func (m *tokenManager) keysFor(tokenID uint32) (*crypto.DerivedKeys, error) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.ID == tokenID {
		if now.After(m.current.ExpiresAt()) {
			return nil, fmt.Errorf("%w: token %d", ErrTokenExpired, tokenID)
		}
		return m.current.RemoteKeys, nil
	}
	if m.previous != nil && m.previous.ID == tokenID {
		if now.Before(m.graceDeadline(m.previous)) {
			return m.previous.RemoteKeys, nil
		}
		return nil, fmt.Errorf("token %d past grace window", tokenID)
	}
	return nil, fmt.Errorf("unknown token %d", tokenID)
}

// graceDeadline is the moment a superseded token's remote keys stop being
// accepted: its nominal expiry plus the grace fraction of its lifetime.
func (m *tokenManager) graceDeadline(t *SecurityToken) time.Time {
	grace := time.Duration(float64(t.Lifetime) * m.graceFraction)
	return t.ExpiresAt().Add(grace)
}

// shouldRenew reports whether the renew fraction of the current token's
// lifetime has elapsed.
func (m *tokenManager) shouldRenew() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return false
	}
	elapsed := m.clock.Since(m.current.CreatedAt)
	return elapsed >= time.Duration(float64(m.current.Lifetime)*m.renewFraction)
}

// expired reports whether the current token's lifetime has fully elapsed.
func (m *tokenManager) expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return false
	}
	return m.clock.Now().After(m.current.ExpiresAt())
}

// currentID returns the current token id, zero when no token is active.
func (m *tokenManager) currentID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return m.current.ID
}

// wipe zeroizes all key material. The manager is unusable afterwards.
func (m *tokenManager) wipe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.wipe()
	m.previous.wipe()
	m.current = nil
	m.previous = nil
}
