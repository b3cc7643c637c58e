// Package turnrest mints coturn-compatible ephemeral TURN credentials
// ("TURN REST API", draft-uberti-behave-turn-rest):
//
//	username   = <unix_expiry>:<prefix>:<subject>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// coturn validates these with use-auth-secret and the same shared secret.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/hidesapp/hides-signal/internal/config"
)

var (
	ErrNoSecret      = errors.New("turnrest: shared secret is required")
	ErrInvalidTTL    = errors.New("turnrest: ttl must be > 0")
	ErrInvalidPrefix = errors.New("turnrest: username prefix must be non-empty and contain no ':'")
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	// Now and NewSubject override the clock and subject source (tests).
	Now        func() time.Time
	NewSubject func() string
}

// Credentials is one ephemeral TURN username/password pair.
type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

type Issuer struct {
	secret     []byte
	ttl        time.Duration
	prefix     string
	now        func() time.Time
	newSubject func() string
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.SharedSecret == "" {
		return nil, ErrNoSecret
	}
	if cfg.TTL < time.Second {
		return nil, ErrInvalidTTL
	}
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, ErrInvalidPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewSubject == nil {
		cfg.NewSubject = func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		}
	}
	return &Issuer{
		secret:     []byte(cfg.SharedSecret),
		ttl:        cfg.TTL,
		prefix:     cfg.UsernamePrefix,
		now:        cfg.Now,
		newSubject: cfg.NewSubject,
	}, nil
}

// FromConfig builds an Issuer from the TURN_REST_* settings. It returns
// (nil, nil) when TURN REST is disabled.
func FromConfig(cfg config.TurnRESTConfig) (*Issuer, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	return NewIssuer(Config{
		SharedSecret:   cfg.SharedSecret,
		TTL:            time.Duration(cfg.TTLSeconds) * time.Second,
		UsernamePrefix: cfg.UsernamePrefix,
	})
}

// Issue mints credentials for a fresh random subject.
func (i *Issuer) Issue() (Credentials, error) {
	return i.IssueFor(i.newSubject())
}

// IssueFor mints credentials bound to subject, which must not contain ':'.
func (i *Issuer) IssueFor(subject string) (Credentials, error) {
	if subject == "" || strings.Contains(subject, ":") {
		return Credentials{}, fmt.Errorf("turnrest: invalid subject %q", subject)
	}
	expires := i.now().UTC().Add(i.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expires.Unix(), i.prefix, subject)
	return Credentials{
		Username:   username,
		Credential: Sign(i.secret, username),
		Expires:    expires,
	}, nil
}

// Apply returns a copy of servers in which every entry with a TURN URL
// carries creds. Other entries are left as they are.
func Apply(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for idx, server := range servers {
		out[idx] = server
		if hasTURNURL(server) {
			out[idx].Username = creds.Username
			out[idx].Credential = creds.Credential
		}
	}
	return out
}

// Sign computes the coturn credential for username.
func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, url := range server.URLs {
		if config.IsTURNURL(url) {
			return true
		}
	}
	return false
}
