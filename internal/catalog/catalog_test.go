// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package catalog_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenPSG/auxrec/internal/catalog"

	_ "modernc.org/sqlite"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	c, err := catalog.Open(filepath.Join(t.TempDir(), "nested", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	stored, err := c.Record(ctx, []catalog.Alignment{
		{Session: "m01", Stream: "aux", Reference: "aux", Kind: "scan-onset", Scale: 1, Pairs: 5},
		{Session: "m01", Stream: "vid", Reference: "aux", Kind: "scan-onset", Offset: -0.05, Scale: 1, Pairs: 5, MaxResidual: 1e-6},
		{Session: "m01", Stream: "eye1", Reference: "aux", Kind: "scan-onset", Error: "no matching events"},
	})
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for _, a := range stored {
		_, err := ulid.ParseStrict(a.ID)
		assert.NoError(t, err)
		assert.False(t, a.CreatedAt.IsZero())
	}

	_, err = c.Record(ctx, []catalog.Alignment{
		{Session: "m02", Stream: "vid", Reference: "aux", Kind: "scan-onset", Offset: -0.06, Scale: 1.0001, Pairs: 8, Dropped: 1, Lag: -1, LowConfidence: false},
	})
	require.NoError(t, err)

	all, err := c.List(ctx, catalog.ListParams{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	m01, err := c.List(ctx, catalog.ListParams{Session: "m01"})
	require.NoError(t, err)
	require.Len(t, m01, 3)

	byStream := map[string]catalog.Alignment{}
	for _, a := range m01 {
		byStream[a.Stream] = a
	}
	assert.Equal(t, -0.05, byStream["vid"].Offset)
	assert.Equal(t, "no matching events", byStream["eye1"].Error)
	assert.Empty(t, byStream["aux"].Error)

	vid, err := c.List(ctx, catalog.ListParams{Stream: "vid", Limit: 10})
	require.NoError(t, err)
	require.Len(t, vid, 2)
	sessions := []string{vid[0].Session, vid[1].Session}
	assert.ElementsMatch(t, []string{"m01", "m02"}, sessions)

	latest, err := c.List(ctx, catalog.ListParams{Session: "m02", Stream: "vid"})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, -1, latest[0].Lag)
	assert.Equal(t, 1, latest[0].Dropped)
	assert.Equal(t, 1.0001, latest[0].Scale)
}

func TestReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	c, err := catalog.Open(path)
	require.NoError(t, err)
	_, err = c.Record(ctx, []catalog.Alignment{{Session: "m01", Stream: "vid", Reference: "aux", Kind: "scan-onset", Scale: 1}})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = catalog.Open(path)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.List(ctx, catalog.ListParams{Session: "m01"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestListRejectsBadTimestamp(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	c, err := catalog.Open(path)
	require.NoError(t, err)
	defer c.Close()
	stored, err := c.Record(ctx, []catalog.Alignment{{Session: "m01", Stream: "vid", Reference: "aux", Kind: "scan-onset", Scale: 1}})
	require.NoError(t, err)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, `UPDATE alignments SET created_at = 'yesterday' WHERE id = ?`, stored[0].ID)
	require.NoError(t, err)

	_, err = c.List(ctx, catalog.ListParams{Session: "m01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse created_at of alignment "+stored[0].ID)
}
