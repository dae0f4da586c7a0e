// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crypto implements the Crypto/Key Manager: signing-key selection,
// public JWKS publication, thumbprint derivation, and outbound token
// encryption. It generalizes the file-based and generated key providers to
// the three key-source modes the authorization server supports: a private
// JWKS document (local or fetched from a jwks-uri), a PEM key+certificate
// pair with a declared algorithm family and size, or a published JWKS for a
// remote signer the plugin never holds private material for.
package crypto

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	josejwk "github.com/go-jose/go-jose/v4"

	"github.com/ssoplugins/oidcauthz/internal/log"
)

// DefaultAlgorithm is used when a GeneratingProvider is created without an
// explicit algorithm, and when config omits one.
const DefaultAlgorithm = "ES256"

// SigningKeyData is a single private signing key plus the metadata needed to
// select and advertise it.
type SigningKeyData struct {
	KeyID     string
	Algorithm string
	Key       crypto.Signer
	// Cert, if present, is the parsed leaf certificate used to build the
	// public JWKS x5c chain for this key.
	Cert      *x509.Certificate
	CreatedAt time.Time
}

// Provider selects a signing key and publishes the corresponding public JWKS.
// Implementations must be safe for concurrent use.
type Provider interface {
	// SigningKey returns the default signing key (first configured, or the
	// one matching Config.DefaultKeyID).
	SigningKey(ctx context.Context) (*SigningKeyData, error)
	// KeyByID returns the key with the given kid, used for per-client
	// sign_kid overrides.
	KeyByID(ctx context.Context, kid string) (*SigningKeyData, error)
	// PublicKeys returns every configured key, public material only.
	PublicKeys(ctx context.Context) ([]*SigningKeyData, error)
	// JWKS renders the public keys as an RFC 7517 JSON Web Key Set.
	JWKS(ctx context.Context) (*josejwk.JSONWebKeySet, error)
}

// Config selects and configures a key Provider. Exactly one source mode
// should be populated; NewProviderFromConfig picks the mode from which
// fields are set, falling back to a GeneratingProvider when none are.
type Config struct {
	// Mode (a): private JWKS, local file or directory of PEM files.
	KeyDir           string
	SigningKeyFile   string
	FallbackKeyFiles []string

	// Mode (a) remote: a jwks-uri to fetch private material from is not
	// supported for private keys over the wire; JWKSURI below is the
	// *public* remote-signer case (mode (c)) instead.

	// Mode (b): PEM key + certificate pair with declared type and size.
	PEMKeyFile  string
	PEMCertFile string
	JWTType     string // rsa | ecdsa | eddsa | rsa-pss | sha
	JWTKeySize  int    // 256 | 384 | 512

	// Mode (c): published JWKS for a remote signer; the plugin never holds
	// private key material and SigningKey/KeyByID always fail.
	JWKSPublic    *josejwk.JSONWebKeySet
	JWKSPublicURI string

	// DefaultKeyID overrides "first entry wins" when multiple keys are
	// configured.
	DefaultKeyID string

	// Algorithm is used only by the zero-config generated-key fallback.
	Algorithm string

	// X5C, if set, is injected into the public JWKS entry for PEM-only
	// configs lacking an embedded certificate chain.
	X5C [][]byte
}

// NewProviderFromConfig builds a Provider from Config, selecting the first
// applicable source mode.
func NewProviderFromConfig(cfg Config) (Provider, error) {
	switch {
	case cfg.JWKSPublicURI != "" || cfg.JWKSPublic != nil:
		return newRemoteProvider(cfg)
	case cfg.PEMKeyFile != "":
		return newPEMProvider(cfg)
	case cfg.SigningKeyFile != "":
		return NewFileProvider(cfg)
	default:
		return NewGeneratingProvider(cfg.Algorithm), nil
	}
}

// FileProvider loads signing keys from EC/RSA/Ed25519 PEM files on disk
// (mode (a), local private JWKS expressed as discrete PEM files).
type FileProvider struct {
	mu   sync.RWMutex
	keys []*SigningKeyData
}

// NewFileProvider loads Config.SigningKeyFile as the default key and every
// entry in Config.FallbackKeyFiles as additional publishable keys.
func NewFileProvider(cfg Config) (*FileProvider, error) {
	if cfg.SigningKeyFile == "" {
		return nil, fmt.Errorf("crypto: signing key file is required")
	}
	signing, err := loadPEMKey(filepath.Join(cfg.KeyDir, cfg.SigningKeyFile))
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to load signing key: %w", err)
	}
	keys := []*SigningKeyData{signing}
	for _, f := range cfg.FallbackKeyFiles {
		k, err := loadPEMKey(filepath.Join(cfg.KeyDir, f))
		if err != nil {
			return nil, fmt.Errorf("crypto: failed to load fallback key %q: %w", f, err)
		}
		keys = append(keys, k)
	}
	if cfg.DefaultKeyID != "" {
		reorderDefault(keys, cfg.DefaultKeyID)
	}
	return &FileProvider{keys: keys}, nil
}

func reorderDefault(keys []*SigningKeyData, kid string) {
	for i, k := range keys {
		if k.KeyID == kid && i != 0 {
			keys[0], keys[i] = keys[i], keys[0]
			return
		}
	}
}

func loadPEMKey(path string) (*SigningKeyData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	signer, alg, err := parseSigner(block)
	if err != nil {
		return nil, err
	}
	kid, err := ThumbprintForKey(signer.Public())
	if err != nil {
		return nil, err
	}
	return &SigningKeyData{KeyID: kid, Algorithm: alg, Key: signer, CreatedAt: time.Now()}, nil
}

func parseSigner(block *pem.Block) (crypto.Signer, string, error) {
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, ecdsaAlg(key.Curve), nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, "RS256", nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		switch k := key.(type) {
		case *ecdsa.PrivateKey:
			return k, ecdsaAlg(k.Curve), nil
		case *rsa.PrivateKey:
			return k, "RS256", nil
		case ed25519.PrivateKey:
			return k, "EdDSA", nil
		}
	}
	return nil, "", fmt.Errorf("unsupported or malformed private key")
}

func ecdsaAlg(curve elliptic.Curve) string {
	switch curve.Params().BitSize {
	case 384:
		return "ES384"
	case 521:
		return "ES512"
	default:
		return "ES256"
	}
}

func (p *FileProvider) SigningKey(context.Context) (*SigningKeyData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.keys) == 0 {
		return nil, fmt.Errorf("crypto: no keys configured")
	}
	return p.keys[0], nil
}

func (p *FileProvider) KeyByID(_ context.Context, kid string) (*SigningKeyData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, k := range p.keys {
		if k.KeyID == kid {
			return k, nil
		}
	}
	return nil, fmt.Errorf("crypto: unknown kid %q", kid)
}

func (p *FileProvider) PublicKeys(context.Context) ([]*SigningKeyData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*SigningKeyData, len(p.keys))
	copy(out, p.keys)
	return out, nil
}

func (p *FileProvider) JWKS(ctx context.Context) (*josejwk.JSONWebKeySet, error) {
	keys, err := p.PublicKeys(ctx)
	if err != nil {
		return nil, err
	}
	return publicJWKS(keys)
}

// GeneratingProvider lazily generates an ephemeral signing key on first use.
// It exists for zero-config development/test instantiation; the key does
// not survive process restarts.
type GeneratingProvider struct {
	algorithm string
	once      sync.Once
	mu        sync.Mutex
	key       *SigningKeyData
	err       error
}

// NewGeneratingProvider returns a provider that generates a key for algorithm
// on first access. An empty algorithm defaults to DefaultAlgorithm.
func NewGeneratingProvider(algorithm string) *GeneratingProvider {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	return &GeneratingProvider{algorithm: algorithm}
}

func (p *GeneratingProvider) ensure() (*SigningKeyData, error) {
	p.once.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		signer, err := generateSigner(p.algorithm)
		if err != nil {
			p.err = err
			return
		}
		kid, err := ThumbprintForKey(signer.Public())
		if err != nil {
			p.err = err
			return
		}
		p.key = &SigningKeyData{KeyID: kid, Algorithm: p.algorithm, Key: signer, CreatedAt: time.Now()}
		log.Infow("generated ephemeral signing key", "kid", kid, "alg", p.algorithm)
	})
	return p.key, p.err
}

func generateSigner(algorithm string) (crypto.Signer, error) {
	switch algorithm {
	case "ES256":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ES384":
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case "ES512":
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case "EdDSA":
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	default:
		return nil, fmt.Errorf("crypto: unsupported algorithm %q for key generation", algorithm)
	}
}

func (p *GeneratingProvider) SigningKey(context.Context) (*SigningKeyData, error) {
	return p.ensure()
}

func (p *GeneratingProvider) KeyByID(ctx context.Context, kid string) (*SigningKeyData, error) {
	k, err := p.ensure()
	if err != nil {
		return nil, err
	}
	if k.KeyID != kid {
		return nil, fmt.Errorf("crypto: unknown kid %q", kid)
	}
	return k, nil
}

func (p *GeneratingProvider) PublicKeys(context.Context) ([]*SigningKeyData, error) {
	k, err := p.ensure()
	if err != nil {
		return nil, err
	}
	return []*SigningKeyData{k}, nil
}

func (p *GeneratingProvider) JWKS(ctx context.Context) (*josejwk.JSONWebKeySet, error) {
	keys, err := p.PublicKeys(ctx)
	if err != nil {
		return nil, err
	}
	return publicJWKS(keys)
}
