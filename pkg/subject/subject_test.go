// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package subject

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssoplugins/oidcauthz/pkg/store"
)

type staticSectors map[string]string

func (s staticSectors) SectorIdentifierURI(clientID string) string { return s[clientID] }

func TestResolve_PublicStableAcrossClients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()

	r := New("oidc", store.SubjectPublic, mem)
	s1, err := r.Resolve(ctx, "alice", "client-a", nil)
	require.NoError(t, err)
	s2, err := r.Resolve(ctx, "alice", "client-b", nil)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 32)
}

func TestResolve_PairwiseDistinctPerClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()

	r := New("oidc", store.SubjectPairwise, mem)
	s1, err := r.Resolve(ctx, "alice", "client-a", nil)
	require.NoError(t, err)
	s2, err := r.Resolve(ctx, "alice", "client-b", nil)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)

	// Stable on repeat.
	again, err := r.Resolve(ctx, "alice", "client-a", nil)
	require.NoError(t, err)
	assert.Equal(t, s1, again)
}

func TestResolve_PairwiseSharedSector(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()

	sectors := staticSectors{
		"client-a": "https://sector.example.com/group",
		"client-b": "https://sector.example.com/group",
		"client-c": "",
	}
	r := New("oidc", store.SubjectPairwise, mem)

	s1, err := r.Resolve(ctx, "alice", "client-a", sectors)
	require.NoError(t, err)
	s2, err := r.Resolve(ctx, "alice", "client-b", sectors)
	require.NoError(t, err)
	s3, err := r.Resolve(ctx, "alice", "client-c", sectors)
	require.NoError(t, err)

	assert.Equal(t, s1, s2, "clients sharing a sector share the sub")
	assert.NotEqual(t, s1, s3)
}

func TestResolve_DistinctUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()

	r := New("oidc", store.SubjectPublic, mem)
	s1, err := r.Resolve(ctx, "alice", "c", nil)
	require.NoError(t, err)
	s2, err := r.Resolve(ctx, "bob", "c", nil)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}
