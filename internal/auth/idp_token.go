package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnknownKeyID はJWKSに該当するkidの鍵がないことを示す。
var ErrUnknownKeyID = errors.New("kid not found in JWKS")

// KeySource はkidに対応するRSA公開鍵を返す。
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// jwksMinRefreshInterval は未知のkidによる再取得の最小間隔。
const jwksMinRefreshInterval = 30 * time.Second

// JWKSCache は外部IdPのJWKSを取得し、TTLの間キャッシュする。
// 未知のkidを受け取った場合はTTL内でも再取得するが、取得はjwksMinRefreshIntervalに1回までとし、
// 同時に届いたリクエストの取得は1回にまとめる。
type JWKSCache struct {
	url  string
	ttl  time.Duration
	http *http.Client
	now  func() time.Time

	// fetchMu は取得処理を直列化する。
	fetchMu sync.Mutex

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	expAt       time.Time
	lastAttempt time.Time
}

// NewJWKSCache はJWKSCacheを生成する。
func NewJWKSCache(jwksURL string, ttl time.Duration, client *http.Client) *JWKSCache {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &JWKSCache{
		url:  jwksURL,
		ttl:  ttl,
		http: client,
		now:  time.Now,
		keys: make(map[string]*rsa.PublicKey),
	}
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// Key はkidに対応する公開鍵を返す。
// 再取得が間隔制限で見送られた場合はキャッシュ済みの鍵で判定する。
func (c *JWKSCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if pk, ok := c.cached(kid, true); ok {
		return pk, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	// 待っている間に別のリクエストが取得を終えている場合がある
	if pk, ok := c.cached(kid, true); ok {
		return pk, nil
	}

	c.mu.RLock()
	last := c.lastAttempt
	c.mu.RUnlock()

	if last.IsZero() || c.now().Sub(last) >= jwksMinRefreshInterval {
		c.mu.Lock()
		c.lastAttempt = c.now()
		c.mu.Unlock()

		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
	}

	if pk, ok := c.cached(kid, false); ok {
		return pk, nil
	}
	return nil, ErrUnknownKeyID
}

// cached はキャッシュからkidの鍵を返す。requireFreshがtrueの場合はTTL切れの鍵を返さない。
func (c *JWKSCache) cached(kid string, requireFresh bool) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pk, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	if requireFresh && !c.now().Before(c.expAt) {
		return nil, false
	}
	return pk, true
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch JWKS: status %d", resp.StatusCode)
	}

	var doc jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pk, err := rsaPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pk
	}

	c.mu.Lock()
	c.keys = keys
	c.expAt = c.now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

func rsaPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil || len(eb) == 0 {
		return nil, errors.New("invalid exponent")
	}
	exp := 0
	for _, b := range eb {
		exp = exp<<8 + int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: exp}, nil
}

// IdentityClaims は外部IdPのセッショントークンから取り出す主張。
type IdentityClaims struct {
	jwt.RegisteredClaims
}

// TokenVerifierConfig はトークン検証の設定。空の値は検証しない。
type TokenVerifierConfig struct {
	Issuer   string
	Audience string
}

// TokenVerifier は外部IdPが発行したRS256署名付きトークンを検証する。
type TokenVerifier struct {
	keys   KeySource
	config TokenVerifierConfig
}

// NewTokenVerifier はTokenVerifierを生成する。
func NewTokenVerifier(keys KeySource, config TokenVerifierConfig) *TokenVerifier {
	return &TokenVerifier{keys: keys, config: config}
}

// Verify はトークンの署名と有効期限を検証し、外部IdPのユーザーID（sub）を返す。
func (v *TokenVerifier) Verify(ctx context.Context, raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.config.Audience))
	}

	claims := &IdentityClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		return v.keys.Key(ctx, kid)
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("invalid identity token: %w", err)
	}

	if claims.Subject == "" {
		return "", errors.New("invalid identity token: missing subject")
	}
	return claims.Subject, nil
}
