// Package registryclient implements resolver.Registry over HTTP against an
// external package registry.
package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// Config configures a registry HTTP client.
type Config struct {
	BaseURL     string
	Secret      []byte       // HMAC key this client signs its own bearer token with
	Issuer      string       // jwt "iss" claim; defaults to "tangram"
	HTTPClient  *http.Client // nil defaults to http.DefaultClient
	MaxRetries  int          // defaults to 3
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Client implements interfaces.RegistryClient (and, by the same method
// set, resolver.Registry) over HTTP. It mints its own short-lived HS256
// bearer per request: it only ever authenticates itself to the registry
// and never verifies a token issued by anyone else, so a shared secret is
// enough.
type Client struct {
	cfg Config
}

// New builds a Client, filling in defaults for anything cfg leaves zero.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "tangram"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	return &Client{cfg: cfg}
}

type resolveResponse struct {
	PackageId string `json:"package_id"`
}

// ResolvePackage resolves name@version against the registry, retrying on a
// 5xx response with jittered exponential backoff. A 4xx response is not
// retried — it means the registry has already made its decision about this
// package.
func (c *Client) ResolvePackage(ctx context.Context, name, version string) (id.Id, error) {
	token, err := c.mintToken(name, version)
	if err != nil {
		return id.Id{}, err
	}
	url := fmt.Sprintf("%s/packages/%s/versions/%s", c.cfg.BaseURL, name, version)

	b := newBackoff(c.cfg.BackoffBase, c.cfg.BackoffMax)
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.Next()):
			case <-ctx.Done():
				return id.Id{}, tgerror.WrapKind(tgerror.KindCancellation, ctx.Err(), "registryclient: resolve %s@%s", name, version)
			}
		}

		pkgId, retry, err := c.doResolve(ctx, url, token, name, version)
		if err == nil {
			return pkgId, nil
		}
		if !retry {
			return id.Id{}, err
		}
		lastErr = err
	}
	return id.Id{}, tgerror.WrapKind(tgerror.KindIO, lastErr, "registryclient: %s@%s: exhausted retries", name, version)
}

// doResolve makes one attempt. The bool return reports whether the error
// (if any) is worth retrying.
func (c *Client) doResolve(ctx context.Context, url, token, name, version string) (id.Id, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return id.Id{}, false, tgerror.WrapKind(tgerror.KindInvalid, err, "registryclient: build request for %s@%s", name, version)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return id.Id{}, true, tgerror.WrapKind(tgerror.KindIO, err, "registryclient: request %s@%s", name, version)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return id.Id{}, true, tgerror.New(tgerror.KindIO, "registryclient: %s@%s: registry returned %d", name, version, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return id.Id{}, false, tgerror.WrapKind(tgerror.KindIO, err, "registryclient: read response for %s@%s", name, version)
	}
	if resp.StatusCode != http.StatusOK {
		return id.Id{}, false, tgerror.New(tgerror.KindNotFound, "registryclient: %s@%s: registry returned %d: %s", name, version, resp.StatusCode, bytes.TrimSpace(body))
	}

	var decoded resolveResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return id.Id{}, false, tgerror.WrapKind(tgerror.KindInvalid, err, "registryclient: decode response for %s@%s", name, version)
	}
	pkgId, err := id.ParseString(decoded.PackageId)
	if err != nil {
		return id.Id{}, false, tgerror.WrapKind(tgerror.KindInvalid, err, "registryclient: parse package id for %s@%s", name, version)
	}
	return pkgId, false, nil
}

type packageClaims struct {
	jwt.RegisteredClaims
	Name    string `json:"pkg,omitempty"`
	Version string `json:"ver,omitempty"`
}

func (c *Client) mintToken(name, version string) (string, error) {
	now := time.Now()
	claims := packageClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Name:    name,
		Version: version,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.cfg.Secret)
	if err != nil {
		return "", tgerror.WrapKind(tgerror.KindInvalid, err, "registryclient: sign request token")
	}
	return signed, nil
}
