package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pumpguard/internal/metrics"
	"pumpguard/internal/storage"
)

const nonceBytes = 16

// Authenticator runs the nonce, sign, verify login flow.
type Authenticator struct {
	nonces  storage.NonceStore
	tokens  *TokenIssuer
	ttl     time.Duration
	metrics *metrics.Collectors
	logger  zerolog.Logger
	now     func() time.Time
	random  io.Reader
}

// NewAuthenticator wires the nonce store and token issuer. nonceTTL bounds how long an issued
// nonce stays usable.
func NewAuthenticator(nonces storage.NonceStore, tokens *TokenIssuer, nonceTTL time.Duration, collectors *metrics.Collectors, logger zerolog.Logger) *Authenticator {
	if collectors == nil {
		collectors = metrics.New()
	}
	return &Authenticator{
		nonces:  nonces,
		tokens:  tokens,
		ttl:     nonceTTL,
		metrics: collectors,
		logger:  logger.With().Str("component", "auth").Logger(),
		now:     time.Now,
		random:  rand.Reader,
	}
}

// Tokens exposes the issuer so the transport can check bearer tokens.
func (a *Authenticator) Tokens() *TokenIssuer {
	return a.tokens
}

// IssueNonce stores a fresh single-use nonce for address and collects expired ones.
func (a *Authenticator) IssueNonce(ctx context.Context, address string) (string, error) {
	if !ValidAddress(address) {
		return "", fmt.Errorf("%w: address %q", ErrInvalidInput, address)
	}

	buf := make([]byte, nonceBytes)
	if _, err := io.ReadFull(a.random, buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	now := a.now().UTC()
	if err := a.nonces.InsertNonce(ctx, storage.Nonce{Address: strings.ToLower(address), Value: nonce, CreatedAt: now}); err != nil {
		return "", err
	}
	a.metrics.NoncesIssued.Inc()

	removed, err := a.nonces.DeleteNoncesBefore(ctx, now.Add(-a.ttl))
	if err != nil {
		a.logger.Warn().Err(err).Msg("nonce garbage collection failed")
	} else if removed > 0 {
		a.logger.Debug().Int64("removed", removed).Msg("expired nonces removed")
	}
	return nonce, nil
}

// Verify checks a signed login message and, on success, consumes the nonce and issues a session.
// Every rejection wraps ErrUnauthorized; the specific kind is kept for logs and tests.
func (a *Authenticator) Verify(ctx context.Context, address, message, signature string) (Session, error) {
	if address == "" || message == "" || signature == "" {
		a.metrics.AuthAttempts.WithLabelValues("invalid_input").Inc()
		return Session{}, fmt.Errorf("%w: address, message and signature are required", ErrInvalidInput)
	}

	owner := strings.ToLower(address)
	logger := a.logger.With().Str("address", owner).Logger()
	now := a.now().UTC()

	nonce, _ := ExtractNonce(message)
	_, found, err := a.nonces.FindNonce(ctx, owner, nonce, now.Add(-a.ttl))
	if err != nil {
		a.metrics.AuthAttempts.WithLabelValues("error").Inc()
		return Session{}, err
	}
	if !found {
		return Session{}, a.reject(logger, ErrNonceInvalidOrExpired, errors.New("no live nonce for address"))
	}

	// the signed text must be the issued message verbatim, up to address casing
	if !strings.EqualFold(message, Message(address, nonce)) {
		return Session{}, a.reject(logger, ErrSignatureVerificationFailed, errors.New("message does not match the issued login text"))
	}

	if err := VerifySignature(message, signature, address); err != nil {
		return Session{}, a.reject(logger, ErrSignatureVerificationFailed, err)
	}

	consumed, err := a.nonces.DeleteNonce(ctx, owner, nonce)
	if err != nil {
		a.metrics.AuthAttempts.WithLabelValues("error").Inc()
		return Session{}, err
	}
	if !consumed {
		return Session{}, a.reject(logger, ErrNonceInvalidOrExpired, errors.New("nonce consumed concurrently"))
	}

	session, err := a.tokens.Issue(owner, now)
	if err != nil {
		a.metrics.AuthAttempts.WithLabelValues("error").Inc()
		return Session{}, err
	}
	a.metrics.AuthAttempts.WithLabelValues("success").Inc()
	logger.Info().Time("expires_at", session.ExpiresAt).Msg("wallet authenticated")
	return session, nil
}

func (a *Authenticator) reject(logger zerolog.Logger, kind, cause error) error {
	outcome := "signature"
	if errors.Is(kind, ErrNonceInvalidOrExpired) {
		outcome = "nonce"
	}
	a.metrics.AuthAttempts.WithLabelValues(outcome).Inc()
	logger.Warn().Err(cause).Str("reason", outcome).Msg("authentication rejected")
	if errors.Is(cause, kind) {
		return fmt.Errorf("%w: %w", ErrUnauthorized, cause)
	}
	return fmt.Errorf("%w: %w: %w", ErrUnauthorized, kind, cause)
}
