// Package remotecache implements the remote cache client: an optional
// read-through/write-behind tier in front of
// internal/cachestore, speaking the HTTP wire protocol
// `/v1/artifacts/{digest}?org=&ws=&env=` with `X-API-KEY`/`X-OMNI-TENANT`
// headers over opaque octet-stream bodies.
//
// Grounded on turborepo's internal/client.APIClient (retryablehttp.Client
// construction, checkRetry's "retry 5xx/429, never retry a TLS failure"
// policy, request building in internal/client/cache.go's
// PutArtifact/FetchArtifact), adapted from Vercel's team/team-slug query
// params to its org/workspace/env triple and from a single
// Authorization bearer token to the two-header API-key/tenant scheme.
package remotecache

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/omni-build/omni/internal/digest"
	"github.com/omni-build/omni/internal/omnierr"
	"golang.org/x/crypto/pbkdf2"
)

// Access carries the parameters attached to every request: the remote
// endpoint plus the tenant/org/workspace/env coordinates that scope an
// artifact to its owner.
type Access struct {
	BaseURL   string
	APIKey    string
	Tenant    string
	Org       string
	Workspace string
	Env       string
}

// connectTimeout bounds dialing the remote (the TCP connect only, not the
// whole request).
const connectTimeout = 30 * time.Second

// Client is a thin wrapper over retryablehttp with a bounded retry
// policy: exponential backoff on 5xx, no retry on 4xx except 408/429.
type Client struct {
	http *retryablehttp.Client
}

// NewClient builds a remote cache client. logger may be nil, in which
// case retry diagnostics are discarded (retryablehttp accepts a nil
// Logger).
func NewClient(logger hclog.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	rc := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport: transport,
		},
		RetryWaitMin: 1 * time.Second,
		RetryWaitMax: 10 * time.Second,
		RetryMax:     4,
		Backoff:      retryablehttp.DefaultBackoff,
		Logger:       logger,
	}
	rc.CheckRetry = checkRetry
	return &Client{http: rc}
}

// checkRetry implements the retry policy, adapted from
// turborepo's APIClient.checkRetry/retryCachePolicy: never retry a
// context cancellation, always retry a transport-level error or a 5xx,
// retry 408/429 specifically among 4xx, and accept everything else as
// terminal.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp == nil {
		return true, nil
	}
	switch {
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return true, nil
	case resp.StatusCode >= 500:
		return true, nil
	default:
		return false, nil
	}
}

func artifactURL(access Access, d digest.Digest) (string, error) {
	base, err := url.Parse(access.BaseURL)
	if err != nil {
		return "", omnierr.Wrapf(omnierr.RemoteCacheUnavailable, err, "remotecache: invalid base URL %q", access.BaseURL)
	}
	base.Path = fmt.Sprintf("/v1/artifacts/%s", d.String())
	q := url.Values{}
	q.Set("org", access.Org)
	q.Set("ws", access.Workspace)
	q.Set("env", access.Env)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, requestURL string, body []byte, access Access) (*retryablehttp.Request, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, requestURL, rdr)
	if err != nil {
		return nil, omnierr.Wrap(omnierr.RemoteCacheUnavailable, err)
	}
	req, err := retryablehttp.FromRequest(httpReq)
	if err != nil {
		return nil, omnierr.Wrap(omnierr.RemoteCacheUnavailable, err)
	}
	req.Header.Set("X-API-KEY", access.APIKey)
	req.Header.Set("X-OMNI-TENANT", access.Tenant)
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	return req, nil
}

// GetArtifact fetches the artifact stored under d
// `get_artifact(access, digest) → Optional<bytes>`. A 404 is reported as
// (nil, false, nil), not an error.
func (c *Client) GetArtifact(ctx context.Context, access Access, d digest.Digest) ([]byte, bool, error) {
	requestURL, err := artifactURL(access, d)
	if err != nil {
		return nil, false, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, requestURL, nil, access)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, omnierr.Wrapf(omnierr.RemoteCacheUnavailable, err, "remotecache: fetching %s", d)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, omnierr.New(omnierr.RemoteCacheUnavailable, fmt.Sprintf("remotecache: unexpected status %s fetching %s", resp.Status, d))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, omnierr.Wrap(omnierr.IoError, err)
	}
	return body, true, nil
}

// PutArtifact uploads body under d. The operation is idempotent: a
// repeat upload of the same digest simply overwrites the same key.
func (c *Client) PutArtifact(ctx context.Context, access Access, d digest.Digest, body []byte) error {
	requestURL, err := artifactURL(access, d)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPut, requestURL, body, access)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return omnierr.Wrapf(omnierr.RemoteCacheUnavailable, err, "remotecache: storing %s", d)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return omnierr.New(omnierr.RemoteCacheUnavailable, fmt.Sprintf("remotecache: unexpected status %s storing %s", resp.Status, d))
	}
	return nil
}

// ValidationResult is the outcome of ValidateAccess.
type ValidationResult struct {
	IsValid bool
	Message string
}

// ValidateAccess checks that access's credentials can reach the remote
// cache `validate_access(access) → {is_valid,
// message}`, used during setup (the `omni config` flow). It issues a
// HEAD against a synthetic digest so no real artifact is read or
// written, mirroring turborepo's ArtifactExists HEAD-request idiom.
func (c *Client) ValidateAccess(ctx context.Context, access Access) (ValidationResult, error) {
	requestURL, err := artifactURL(access, digest.OfString("omni-validate-access-probe"))
	if err != nil {
		return ValidationResult{}, err
	}
	req, err := c.newRequest(ctx, http.MethodHead, requestURL, nil, access)
	if err != nil {
		return ValidationResult{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ValidationResult{IsValid: false, Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusNotFound:
		// 404 is fine here: it means the credentials were accepted and
		// the probe digest simply has no artifact, not that access was denied.
		return ValidationResult{IsValid: true, Message: "ok"}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ValidationResult{IsValid: false, Message: fmt.Sprintf("access denied: %s", resp.Status)}, nil
	default:
		return ValidationResult{IsValid: false, Message: fmt.Sprintf("unexpected status: %s", resp.Status)}, nil
	}
}

// Credential encryption: AES-256-GCM under a key derived with PBKDF2 from
// this machine's secret and a caller-supplied salt. SaveCredentials
// generates a random salt and stores it beside the ciphertext; no
// environment variable supplies it. The derived key never touches disk;
// only the ciphertext does.

const (
	pbkdf2Iterations = 100_000
	aesKeySize       = 32 // AES-256
	nonceSize        = 12
)

// machineSecret returns this machine's best-effort stable identifier,
// used as pbkdf2's password input. Linux/systemd machines expose
// /etc/machine-id; anything without one falls back to the hostname,
// which is still stable across a single machine's runs even though it's
// weaker than a kernel-assigned UUID.
func machineSecret() []byte {
	if b, err := os.ReadFile("/etc/machine-id"); err == nil && len(b) > 0 {
		return bytes.TrimSpace(b)
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return []byte(host)
	}
	return []byte("omni-default-machine-secret")
}

func deriveKey(salt []byte) []byte {
	return pbkdf2.Key(machineSecret(), salt, pbkdf2Iterations, aesKeySize, sha256.New)
}

// EncryptCredentials seals plaintext (SaveCredentials passes a JSON
// object holding only the API key and tenant) under a key derived from salt and this machine's secret. Output
// layout: `[12-byte nonce][ciphertext][16-byte tag]`,
// where the GCM ciphertext already has the tag appended.
func EncryptCredentials(plaintext, salt []byte) ([]byte, error) {
	key := deriveKey(salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, omnierr.Wrap(omnierr.IoError, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, omnierr.Wrap(omnierr.IoError, err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, omnierr.Wrap(omnierr.IoError, err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// DecryptCredentials is the inverse of EncryptCredentials.
func DecryptCredentials(blob, salt []byte) ([]byte, error) {
	if len(blob) < nonceSize {
		return nil, omnierr.New(omnierr.IoError, "remotecache: credential blob too short")
	}
	key := deriveKey(salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, omnierr.Wrap(omnierr.IoError, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, omnierr.Wrap(omnierr.IoError, err)
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, omnierr.Wrap(omnierr.IoError, errors.New("remotecache: credential decryption failed (wrong machine or corrupt file)"))
	}
	return plaintext, nil
}
