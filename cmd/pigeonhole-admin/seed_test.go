// ABOUTME: Tests for TOML seed-file decoding and the seed command
// ABOUTME: Covers field mapping, active defaulting, and duplicate-entry skips

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigeonhole-mail/pigeonhole/internal/store"
)

const seedTOML = `
[[tags]]
name = "Work"
description = "Work-related emails"
color = "#4ECDC4"

[[tags]]
name = "Personal"

[[rules]]
name = "Urgent Keywords"
type = "keyword"
condition = "urgent|asap|emergency"
action = "classify"
priority = 9

[[rules]]
name = "Mute Robots"
description = "Newsletters and notifiers"
type = "sender"
condition = "noreply@"
action = "flag"
active = false
`

func TestSeedFile_Decode(t *testing.T) {
	var seeds seedFile
	_, err := toml.Decode(seedTOML, &seeds)
	require.NoError(t, err)

	require.Len(t, seeds.Tags, 2)
	assert.Equal(t, "Work", seeds.Tags[0].Name)
	assert.Equal(t, "Work-related emails", seeds.Tags[0].Description)
	assert.Equal(t, "#4ECDC4", seeds.Tags[0].Color)
	assert.Empty(t, seeds.Tags[1].Color)

	require.Len(t, seeds.Rules, 2)
	urgent := seeds.Rules[0]
	assert.Equal(t, "Urgent Keywords", urgent.Name)
	assert.Equal(t, "keyword", urgent.Type)
	assert.Equal(t, "urgent|asap|emergency", urgent.Condition)
	assert.Equal(t, "classify", urgent.Action)
	assert.Equal(t, 9, urgent.Priority)
	assert.Nil(t, urgent.Active, "omitted active stays unset so the command defaults it on")

	muted := seeds.Rules[1]
	require.NotNil(t, muted.Active)
	assert.False(t, *muted.Active)
}

func TestRunSeed(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "mail.db")
	logger := slog.New(slog.DiscardHandler)

	// Migrate the database the command is about to open
	pool, err := store.Open(dbPath, store.PoolConfig{}, logger)
	require.NoError(t, err)
	migrator, err := store.NewMigrator(pool, logger)
	require.NoError(t, err)
	_, err = migrator.Up(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	configPath := filepath.Join(tmpDir, "config.yaml")
	configYAML := fmt.Sprintf("database:\n  path: %q\nlogging:\n  level: \"error\"\n", dbPath)
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0644))
	t.Setenv("PIGEONHOLE_CONFIG", configPath)

	seedPath := filepath.Join(tmpDir, "seed.toml")
	require.NoError(t, os.WriteFile(seedPath, []byte(seedTOML), 0644))

	ctx := context.Background()
	require.NoError(t, runSeed(ctx, []string{"-file", seedPath}))
	// Re-seeding skips every entry instead of failing
	require.NoError(t, runSeed(ctx, []string{"-file", seedPath}))

	pool, err = store.Open(dbPath, store.PoolConfig{}, logger)
	require.NoError(t, err)
	st := store.New(pool, logger)
	defer st.Close()

	tags, err := st.ListTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 2)

	work, err := st.GetTagByName(ctx, "Work")
	require.NoError(t, err)
	assert.Equal(t, "#4ECDC4", work.Color)

	rules, err := st.ListRules(ctx, false)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	// Highest priority first
	assert.Equal(t, "Urgent Keywords", rules[0].Name)
	assert.Equal(t, store.RuleTypeKeyword, rules[0].Type)
	assert.Equal(t, store.ActionClassify, rules[0].Action)
	assert.True(t, rules[0].IsActive, "omitted active defaults on")
	assert.Equal(t, "Mute Robots", rules[1].Name)
	assert.Equal(t, "Newsletters and notifiers", rules[1].Description)
	assert.False(t, rules[1].IsActive)
}

func TestRunSeed_RequiresFile(t *testing.T) {
	err := runSeed(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-file is required")
}
