package main

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCmd_NoDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "meta.db")

	out, err := execute(t, dbPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "syncroot init")
	assert.NoFileExists(t, dbPath, "status never creates the database")

	out, err = execute(t, dbPath, "--json", "status")
	require.NoError(t, err)

	var got statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.False(t, got.Initialized)
	assert.Nil(t, got.SyncRoot)
}

func TestStatusCmd_Seeded(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "meta.db")
	tree := seedDatabase(t, dbPath)

	out, err := execute(t, dbPath, "--json", "status")
	require.NoError(t, err)

	var got statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	assert.True(t, got.Initialized)
	assert.Equal(t, dbPath, got.Database)
	require.NotNil(t, got.SyncRoot)
	assert.Equal(t, tree.root.ID, got.SyncRoot.FileID)
	assert.Equal(t, 3, got.Stats.Files)
	assert.Zero(t, got.Stats.Apps)
	assert.Zero(t, got.NextDirty, "a fresh seed has nothing dirty")

	roles := map[string]int{}
	for _, tr := range got.Trackers {
		roles[tr.Role]++
	}

	assert.Equal(t, map[string]int{"sync_root": 1, "app_root": 2}, roles)
}

func TestStatusCmd_TextShowsRegisteredApp(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "meta.db")
	tree := seedDatabase(t, dbPath)

	_, err := execute(t, dbPath, "app", "register", "editor", tree.appA.ID)
	require.NoError(t, err)

	out, err := execute(t, dbPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Apps: 1")
	assert.Contains(t, out, "editor")
	assert.Contains(t, out, "Next dirty tracker: ")
}
