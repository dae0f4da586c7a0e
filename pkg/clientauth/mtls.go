// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package clientauth

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"net/url"

	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
)

// presentedCert extracts the client certificate from the TLS connection
// state, or from the configured forwarding header when the plugin sits
// behind a TLS-terminating proxy. Returns nil when no certificate is
// presented.
func (a *Authenticator) presentedCert(r *http.Request) *x509.Certificate {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		return r.TLS.PeerCertificates[0]
	}
	if a.cfg.CertHeader == "" {
		return nil
	}
	raw := r.Header.Get(a.cfg.CertHeader)
	if raw == "" {
		return nil
	}
	unescaped, err := url.QueryUnescape(raw)
	if err != nil {
		return nil
	}
	block, _ := pem.Decode([]byte(unescaped))
	if block == nil {
		return nil
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil
	}
	return cert
}

// authenticateMTLS dispatches between tls_client_auth (PKI: DN or SAN
// matches the client's declared value) and self_signed_tls_client_auth
// (x5t#S256 of the presented cert matches a key in the client's jwks),
// trying whichever the client's method list allows.
func (a *Authenticator) authenticateMTLS(ctx context.Context, clientID string, cert *x509.Certificate) (*Result, error) {
	client, err := a.lookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	thumb := oidccrypto.X5TS256(cert)

	if methodAllowed(client, MethodTLSClientAuth) && a.matchesDeclaredSubject(client, cert) {
		return &Result{Client: client, Method: MethodTLSClientAuth, CertThumbprint: thumb}, nil
	}
	if methodAllowed(client, MethodSelfSignedTLSAuth) {
		ok, err := a.matchesDeclaredJWKS(ctx, client, cert)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Result{Client: client, Method: MethodSelfSignedTLSAuth, CertThumbprint: thumb}, nil
		}
	}
	return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "client certificate does not match registered credentials")
}

// matchesDeclaredSubject compares the certificate's subject DN and every SAN
// (DNS, URI, IP, email) against the client's declared value.
func (a *Authenticator) matchesDeclaredSubject(client *host.Client, cert *x509.Certificate) bool {
	declared, ok := client.Property(a.cfg.TLSSubjectProperty)
	if !ok || declared == "" {
		return false
	}
	if cert.Subject.String() == declared {
		return true
	}
	for _, dns := range cert.DNSNames {
		if dns == declared {
			return true
		}
	}
	for _, u := range cert.URIs {
		if u.String() == declared {
			return true
		}
	}
	for _, ip := range cert.IPAddresses {
		if ip.String() == declared {
			return true
		}
	}
	for _, email := range cert.EmailAddresses {
		if email == declared {
			return true
		}
	}
	return false
}

// matchesDeclaredJWKS reports whether the presented certificate's x5t#S256
// matches any key in the client's declared jwks (self_signed_tls_client_auth).
func (a *Authenticator) matchesDeclaredJWKS(ctx context.Context, client *host.Client, cert *x509.Certificate) (bool, error) {
	set, err := oidccrypto.ResolveClientJWKS(ctx, a.hc, oidccrypto.ClientKeySource{
		JWKSJSON:  propOr(client, a.cfg.JWKSProperty),
		JWKSURI:   propOr(client, a.cfg.JWKSURIProperty),
		PubkeyPEM: propOr(client, a.cfg.PubkeyProperty),
	})
	if err != nil {
		return false, oidcerr.CryptoClient(err, "resolving client keys for self_signed_tls_client_auth")
	}
	certSum := sha256.Sum256(cert.Raw)
	for _, k := range set.Keys {
		if len(k.CertificateThumbprintSHA256) > 0 &&
			base64.RawURLEncoding.EncodeToString(k.CertificateThumbprintSHA256) == base64.RawURLEncoding.EncodeToString(certSum[:]) {
			return true, nil
		}
		for _, c := range k.Certificates {
			sum := sha256.Sum256(c.Raw)
			if sum == certSum {
				return true, nil
			}
		}
	}
	return false, nil
}
