// Package identity issues and persists the short peer ids that double as join codes.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/baderanaas/hushroom/pkg/store"
	"go.uber.org/zap"
)

const (
	// Alphabet omits I, O, 0 and 1 so codes survive being read aloud.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	IDLength = 6

	userKey       = "user"
	avatarBaseURL = "https://api.dicebear.com/7.x/avataaars/svg?seed="
)

var ErrInvalidName = errors.New("invalid display name")

// NewID returns a fresh random short id.
func NewID() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < IDLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate id: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode uppercases and trims a join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code (already normalized) is a well-formed short id.
func ValidCode(code string) bool {
	if len(code) != IDLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// MigrateID maps a legacy (UUID-form) id onto a short id. The mapping is deterministic.
func MigrateID(legacy string) string {
	sum := sha256.Sum256([]byte(legacy))
	out := make([]byte, IDLength)
	for i := range out {
		out[i] = Alphabet[int(sum[i])%len(Alphabet)]
	}
	return string(out)
}

// AvatarURL returns the generated avatar for name.
func AvatarURL(name string) string {
	return avatarBaseURL + url.QueryEscape(name)
}

// Provider creates, restores and forgets the local user.
type Provider struct {
	kv  store.KV
	log *zap.Logger
}

func NewProvider(kv store.KV, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{kv: kv, log: log}
}

// Login issues a new identity and persists it. An empty name produces an anonymous guest.
// When the store is over quota the user is still returned, together with an
// error wrapping store.ErrQuotaExceeded, and lives only in memory.
func (p *Provider) Login(name, avatarRef string) (protocol.User, error) {
	id, err := NewID()
	if err != nil {
		return protocol.User{}, err
	}

	name = strings.TrimSpace(name)
	anonymous := name == ""
	if anonymous {
		n, err := rand.Int(rand.Reader, big.NewInt(10000))
		if err != nil {
			return protocol.User{}, fmt.Errorf("failed to generate guest name: %w", err)
		}
		name = fmt.Sprintf("Guest-%04d", n.Int64())
	}
	if strings.ContainsAny(name, "\r\n") {
		return protocol.User{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if avatarRef == "" {
		avatarRef = AvatarURL(name)
	}

	user := protocol.User{
		ID:          id,
		Name:        name,
		AvatarRef:   avatarRef,
		IsAnonymous: anonymous,
	}
	if err := p.save(user); err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			p.log.Warn("identity kept in memory only", zap.String("peer", user.ID), zap.Error(err))
			return user, err
		}
		return protocol.User{}, err
	}
	p.log.Info("identity issued", zap.String("peer", user.ID), zap.Bool("anonymous", anonymous))
	return user, nil
}

// Restore loads the persisted identity. It returns nil when nobody is logged in.
func (p *Provider) Restore() (*protocol.User, error) {
	raw, ok, err := p.kv.Get(userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var user protocol.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}

	if len(user.ID) != IDLength {
		legacy := user.ID
		user.ID = MigrateID(legacy)
		if err := p.save(user); err != nil && !errors.Is(err, store.ErrQuotaExceeded) {
			return nil, err
		}
		p.log.Info("migrated legacy identity", zap.String("legacy", legacy), zap.String("peer", user.ID))
	}
	return &user, nil
}

// Logout forgets the persisted identity.
func (p *Provider) Logout() error {
	if err := p.kv.Remove(userKey); err != nil {
		return fmt.Errorf("failed to remove identity: %w", err)
	}
	return nil
}

func (p *Provider) save(user protocol.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	if err := p.kv.Set(userKey, string(raw)); err != nil {
		return fmt.Errorf("failed to persist identity: %w", err)
	}
	return nil
}
