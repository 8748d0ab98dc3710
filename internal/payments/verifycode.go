package payments

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrVerifyRateLimited     = errors.New("too many verification code requests")
	ErrVerifyChallengeNeeded = errors.New("verification challenge is required")
	ErrVerifyCodeRequired    = errors.New("verification code is required")
	ErrVerifyCodeInvalid     = errors.New("incorrect verification code")
	ErrVerifyCodeExpired     = errors.New("verification code expired")
	ErrVerifyChallengeBad    = errors.New("verification request is invalid")
)

// VerifyCodeStore issues and checks micro-deposit verification codes used to
// prove ownership of a linked bank account. Codes are stored bcrypt-hashed
// in Redis with a TTL and a bounded number of attempts.
type VerifyCodeStore struct {
	client           *redis.Client
	keyPrefix        string
	challengeTTL     time.Duration
	challengePersist time.Duration
	resendAfter      time.Duration
	maxAttempts      int
}

type verifyChallenge struct {
	ID          string    `json:"id"`
	BuildID     string    `json:"buildId"`
	CodeHash    string    `json:"codeHash"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
}

// NewVerifyCodeStore connects the store to Redis.
func NewVerifyCodeStore(addr, password string) (*VerifyCodeStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("verify code redis addr is required")
	}
	challengeTTL := 10 * time.Minute
	return &VerifyCodeStore{
		client:           redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		keyPrefix:        "havenhomes:payments:verify",
		challengeTTL:     challengeTTL,
		challengePersist: challengeTTL + time.Minute,
		resendAfter:      time.Minute,
		maxAttempts:      5,
	}, nil
}

// Issue creates a verification challenge for a build and returns the
// challenge id with the plain code. The code is delivered out of band; only
// its hash is stored.
func (s *VerifyCodeStore) Issue(ctx context.Context, buildID string) (string, string, error) {
	buildID = strings.TrimSpace(buildID)
	if buildID == "" {
		return "", "", errors.New("buildId required")
	}
	resendKey := s.resendKey(buildID)
	allowed, err := s.client.SetNX(ctx, resendKey, "1", s.resendAfter).Result()
	if err != nil {
		return "", "", err
	}
	if !allowed {
		return "", "", ErrVerifyRateLimited
	}
	code, err := generateNumericCode(6)
	if err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", "", fmt.Errorf("generate verification code: %w", err)
	}
	codeHash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", "", fmt.Errorf("hash verification code: %w", err)
	}
	challenge := verifyChallenge{
		ID:          uuid.NewString(),
		BuildID:     buildID,
		CodeHash:    string(codeHash),
		ExpiresAt:   time.Now().UTC().Add(s.challengeTTL),
		MaxAttempts: s.maxAttempts,
	}
	raw, err := json.Marshal(challenge)
	if err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", "", fmt.Errorf("marshal verification challenge: %w", err)
	}
	if err := s.client.Set(ctx, s.challengeKey(challenge.ID), raw, s.challengePersist).Err(); err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", "", err
	}
	return challenge.ID, code, nil
}

// Verify checks a submitted code against the stored hash, counting attempts
// and deleting the challenge on success, expiry, or exhaustion.
func (s *VerifyCodeStore) Verify(ctx context.Context, challengeID, buildID, code string) error {
	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return ErrVerifyChallengeNeeded
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrVerifyCodeRequired
	}
	key := s.challengeKey(challengeID)
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrVerifyChallengeBad
	}
	if err != nil {
		return err
	}
	var challenge verifyChallenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return fmt.Errorf("unmarshal verification challenge: %w", err)
	}
	if challenge.ID == "" || challenge.BuildID != strings.TrimSpace(buildID) {
		return ErrVerifyChallengeBad
	}
	if time.Now().UTC().After(challenge.ExpiresAt) {
		_ = s.client.Del(ctx, key).Err()
		return ErrVerifyCodeExpired
	}
	if challenge.Attempts >= challenge.MaxAttempts {
		_ = s.client.Del(ctx, key).Err()
		return ErrVerifyChallengeBad
	}
	if bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)) != nil {
		challenge.Attempts++
		if challenge.Attempts >= challenge.MaxAttempts {
			_ = s.client.Del(ctx, key).Err()
		} else if updated, marshalErr := json.Marshal(challenge); marshalErr == nil {
			ttl, ttlErr := s.client.TTL(ctx, key).Result()
			if ttlErr == nil && ttl > 0 {
				_ = s.client.Set(ctx, key, updated, ttl).Err()
			}
		}
		return ErrVerifyCodeInvalid
	}
	return s.client.Del(ctx, key).Err()
}

func (s *VerifyCodeStore) challengeKey(id string) string {
	return fmt.Sprintf("%s:challenge:%s", s.keyPrefix, id)
}

func (s *VerifyCodeStore) resendKey(buildID string) string {
	return fmt.Sprintf("%s:resend:%s", s.keyPrefix, buildID)
}

func generateNumericCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
