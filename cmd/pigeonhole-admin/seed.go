// ABOUTME: Seed command: loads tags and classification rules from a TOML file
// ABOUTME: Existing entries with the same name are counted and skipped

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/pigeonhole-mail/pigeonhole/internal/store"
)

// seedFile is the on-disk TOML shape:
//
//	[[tags]]
//	name = "Work"
//	description = "Work-related emails"
//	color = "#4ECDC4"
//
//	[[rules]]
//	name = "Urgent Keywords"
//	type = "keyword"
//	condition = "urgent|asap|emergency"
//	action = "classify"
//	priority = 9
type seedFile struct {
	Tags  []seedTag  `toml:"tags"`
	Rules []seedRule `toml:"rules"`
}

type seedTag struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Color       string `toml:"color"`
}

type seedRule struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Type        string `toml:"type"`
	Condition   string `toml:"condition"`
	Action      string `toml:"action"`
	Priority    int    `toml:"priority"`
	// Active defaults to true when omitted.
	Active *bool `toml:"active"`
}

func runSeed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	file := fs.String("file", "", "TOML file with [[tags]] and [[rules]] entries")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("seed: -file is required")
	}

	var seeds seedFile
	if _, err := toml.DecodeFile(*file, &seeds); err != nil {
		return fmt.Errorf("parsing seed file: %w", err)
	}

	env, err := setup()
	if err != nil {
		return err
	}
	defer env.close()

	var created, skipped int

	for _, t := range seeds.Tags {
		tag := &store.Tag{
			Name:        t.Name,
			Description: t.Description,
			Color:       t.Color,
		}
		switch err := env.store.CreateTag(ctx, tag); {
		case err == nil:
			created++
		case errors.Is(err, store.ErrDuplicate):
			skipped++
		default:
			return fmt.Errorf("seeding tag %q: %w", t.Name, err)
		}
	}

	for _, r := range seeds.Rules {
		rule := &store.Rule{
			Name:        r.Name,
			Description: r.Description,
			Type:        store.RuleType(r.Type),
			Condition:   r.Condition,
			Action:      store.RuleAction(r.Action),
			Priority:    r.Priority,
			IsActive:    r.Active == nil || *r.Active,
		}
		switch err := env.store.CreateRule(ctx, rule); {
		case err == nil:
			created++
		case errors.Is(err, store.ErrDuplicate):
			skipped++
		default:
			return fmt.Errorf("seeding rule %q: %w", r.Name, err)
		}
	}

	fmt.Printf("seeded %d entries, %d already present\n", created, skipped)
	return nil
}
