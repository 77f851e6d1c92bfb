package uasc

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/uasc/crypto"
	"github.com/opd-ai/uasc/limits"
)

// Default lifecycle parameters.
const (
	// DefaultTokenLifetime is the token lifetime a client requests and the
	// longest lifetime a server grants.
	DefaultTokenLifetime = time.Hour

	// DefaultRenewFraction is the fraction of the token lifetime after
	// which the client proactively renews.
	DefaultRenewFraction = 0.75

	// DefaultGraceFraction is the fraction of the token lifetime for which
	// a superseded token's keys are still accepted on receive.
	DefaultGraceFraction = 0.25

	// DefaultHandshakeTimeout bounds negotiation plus channel open.
	DefaultHandshakeTimeout = 30 * time.Second

	// DefaultRenewTimeout bounds how long a renewal request may stay
	// unanswered before the channel is failed.
	DefaultRenewTimeout = 30 * time.Second
)

// Errors returned by Config.Validate.
var (
	ErrInvalidConfig = errors.New("invalid channel configuration")
)

// Config carries the channel parameters shared by client and server
// roles. The zero value is not usable; start from DefaultConfig.
type Config struct {
	// Limits holds the local buffer limit preferences announced during
	// negotiation.
	Limits limits.Limits

	// Policy selects the cryptographic algorithm suite.
	Policy crypto.SecurityPolicy

	// Mode selects which protections are applied to message chunks.
	Mode crypto.MessageSecurityMode

	// EndpointURL is announced in the client Hello. Servers may log it.
	EndpointURL string

	// RequestedLifetime is the token lifetime a client asks for. The
	// server is authoritative and may shorten it; on the server side this
	// value caps what is granted.
	RequestedLifetime time.Duration

	// RenewFraction is the fraction of the token lifetime after which the
	// client renews. Defaults to DefaultRenewFraction when zero.
	RenewFraction float64

	// GraceFraction extends acceptance of a superseded token's keys past
	// its nominal expiry. Defaults to DefaultGraceFraction when zero.
	GraceFraction float64

	// HandshakeTimeout bounds negotiation and channel open. Zero means no
	// timeout.
	HandshakeTimeout time.Duration

	// RenewTimeout bounds an outstanding renewal. Zero means no timeout.
	RenewTimeout time.Duration

	// KeyDerivation selects the PRF used to expand nonces into keys.
	KeyDerivation crypto.KeyDerivation

	// Asymmetric optionally supplies the certificate identity carried in
	// open secure channel headers. Nil leaves the fields null.
	Asymmetric crypto.AsymmetricProvider

	// Time overrides the clock, for tests. Nil uses the system clock.
	Time TimeProvider

	// Logger overrides the package logger. Nil uses logrus.StandardLogger.
	Logger *logrus.Logger
}

// DefaultConfig returns a configuration with protocol defaults and no
// security (PolicyNone / ModeNone).
func DefaultConfig() *Config {
	return &Config{
		Limits:            limits.Default(),
		Policy:            crypto.PolicyNone,
		Mode:              crypto.ModeNone,
		RequestedLifetime: DefaultTokenLifetime,
		RenewFraction:     DefaultRenewFraction,
		GraceFraction:     DefaultGraceFraction,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		RenewTimeout:      DefaultRenewTimeout,
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: security mode %s", ErrInvalidConfig, c.Mode)
	}
	if c.Policy.URI() == "" {
		return fmt.Errorf("%w: security policy %s", ErrInvalidConfig, c.Policy)
	}
	if c.Mode != crypto.ModeNone && c.Policy == crypto.PolicyNone {
		return fmt.Errorf("%w: mode %s requires a security policy", ErrInvalidConfig, c.Mode)
	}
	if c.Mode == crypto.ModeNone && c.Policy != crypto.PolicyNone {
		return fmt.Errorf("%w: policy %s requires mode Sign or SignAndEncrypt", ErrInvalidConfig, c.Policy)
	}
	if c.RequestedLifetime <= 0 {
		return fmt.Errorf("%w: token lifetime %v", ErrInvalidConfig, c.RequestedLifetime)
	}
	if c.RenewFraction < 0 || c.RenewFraction >= 1 {
		return fmt.Errorf("%w: renew fraction %v", ErrInvalidConfig, c.RenewFraction)
	}
	if c.GraceFraction < 0 || c.GraceFraction >= 1 {
		return fmt.Errorf("%w: grace fraction %v", ErrInvalidConfig, c.GraceFraction)
	}
	return nil
}

func (c *Config) renewFraction() float64 {
	if c.RenewFraction == 0 {
		return DefaultRenewFraction
	}
	return c.RenewFraction
}

func (c *Config) graceFraction() float64 {
	if c.GraceFraction == 0 {
		return DefaultGraceFraction
	}
	return c.GraceFraction
}

func (c *Config) clock() TimeProvider {
	if c.Time != nil {
		return c.Time
	}
	return DefaultTimeProvider{}
}

func (c *Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}
