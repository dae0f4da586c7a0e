// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package dcr

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/host/mocks"
	"github.com/ssoplugins/oidcauthz/pkg/store"
)

// fakeWriter records host-directory writes.
type fakeWriter struct {
	created map[string]*host.Client
	deleted []string
}

func newFakeWriter() *fakeWriter { return &fakeWriter{created: map[string]*host.Client{}} }

func (f *fakeWriter) CreateClient(_ context.Context, c *host.Client) error {
	f.created[c.ID] = c
	return nil
}

func (f *fakeWriter) UpdateClient(_ context.Context, c *host.Client) error {
	f.created[c.ID] = c
	return nil
}

func (f *fakeWriter) DeleteClient(_ context.Context, id string) error {
	delete(f.created, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func registrarFixture(t *testing.T, management bool) (*Registrar, *fakeWriter, *store.MemoryStore) {
	t.Helper()
	ctrl := gomock.NewController(t)
	writer := newFakeWriter()
	dir := mocks.NewMockDirectory(ctrl)
	dir.EXPECT().GetClient(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id string) (*host.Client, error) { return writer.created[id], nil }).AnyTimes()

	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })

	r := New(Config{
		PluginName:          "oidc",
		ManagementEnabled:   management,
		RegistrationBaseURI: "https://sso.example.com/oidc/register",
	}, dir, writer, host.BcryptHasher{Cost: 4}, mem)
	return r, writer, mem
}

func TestRegister_GeneratesCredentials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, writer, _ := registrarFixture(t, true)

	resp, err := r.Register(ctx, Metadata{
		RedirectURIs:            []string{"https://rp/cb"},
		ClientName:              "Test RP",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethod: "client_secret_basic",
	}, "")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[a-zA-Z0-9]{16}$`), resp.ClientID)
	assert.Regexp(t, regexp.MustCompile(`^[a-zA-Z0-9]{32}$`), resp.ClientSecret)
	assert.Regexp(t, regexp.MustCompile(`^[a-zA-Z0-9]{32}$`), resp.RegistrationAccessToken)
	assert.Equal(t, "https://sso.example.com/oidc/register/"+resp.ClientID, resp.RegistrationClientURI)

	created := writer.created[resp.ClientID]
	require.NotNil(t, created)
	assert.Equal(t, "Test RP", created.Name)
	assert.True(t, created.Confidential)
	assert.Contains(t, created.AuthorizationTypes, "code")
	assert.Contains(t, created.AuthorizationTypes, "refresh_token")
}

func TestRegister_PublicClientNoSecret(t *testing.T) {
	t.Parallel()
	r, _, _ := registrarFixture(t, false)

	resp, err := r.Register(context.Background(), Metadata{
		RedirectURIs:            []string{"https://rp/cb"},
		TokenEndpointAuthMethod: "none",
	}, "")
	require.NoError(t, err)
	assert.Empty(t, resp.ClientSecret)
	assert.Empty(t, resp.RegistrationAccessToken)
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()
	r, _, _ := registrarFixture(t, false)

	_, err := r.Register(context.Background(), Metadata{}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirect_uris")

	_, err = r.Register(context.Background(), Metadata{
		RedirectURIs:            []string{"https://rp/cb"},
		TokenEndpointAuthMethod: "carrier_pigeon",
	}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_endpoint_auth_method")
}

func TestManagementLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, writer, _ := registrarFixture(t, true)

	resp, err := r.Register(ctx, Metadata{RedirectURIs: []string{"https://rp/cb"}}, "")
	require.NoError(t, err)

	// Authorization requires the management token, compared by hash.
	_, err = r.Authorize(ctx, resp.ClientID, "wrong-token")
	assert.Error(t, err)
	_, err = r.Authorize(ctx, resp.ClientID, resp.RegistrationAccessToken)
	require.NoError(t, err)

	meta, err := r.Read(ctx, resp.ClientID)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://rp/cb"}, meta.RedirectURIs)

	updated, err := r.Update(ctx, resp.ClientID, Metadata{
		RedirectURIs: []string{"https://rp/cb2"},
		ClientName:   "Renamed",
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.ClientName)
	assert.Equal(t, []string{"https://rp/cb2"}, writer.created[resp.ClientID].RedirectURIs)

	require.NoError(t, r.Delete(ctx, resp.ClientID))
	assert.Contains(t, writer.deleted, resp.ClientID)
	_, err = r.Authorize(ctx, resp.ClientID, resp.RegistrationAccessToken)
	assert.Error(t, err)
}
