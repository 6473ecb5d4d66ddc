package access

import (
	"testing"

	"collaborative-page-builder/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestAllows(t *testing.T) {
	const owner = uint64(1)
	cases := []struct {
		name     string
		actor    uint64
		level    domain.PermissionLevel
		required domain.PermissionLevel
		allow    bool
	}{
		{name: "owner without row", actor: owner, level: 0, required: TierEditSettings, allow: true},
		{name: "viewer reads", actor: 2, level: domain.LevelView, required: TierRead, allow: true},
		{name: "viewer edits", actor: 2, level: domain.LevelView, required: TierEditContent, allow: false},
		{name: "editor edits", actor: 2, level: domain.LevelEditContent, required: TierEditContent, allow: true},
		{name: "editor settings", actor: 2, level: domain.LevelEditContent, required: TierEditSettings, allow: false},
		{name: "settings everything", actor: 2, level: domain.LevelEditSettings, required: TierEditSettings, allow: true},
		{name: "stranger", actor: 3, level: 0, required: TierRead, allow: false},
		{name: "anonymous", actor: 0, level: 0, required: TierRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allow, Allows(tc.actor, owner, tc.level, tc.required))
		})
	}
}

func TestAllows_MonotonicInLevel(t *testing.T) {
	levels := []domain.PermissionLevel{domain.LevelView, domain.LevelEditContent, domain.LevelEditSettings}
	for _, required := range levels {
		granted := false
		for _, level := range levels {
			got := Allows(2, 1, level, required)
			if granted {
				assert.True(t, got, "level %d must keep granting tier %d", level, required)
			}
			granted = granted || got
		}
		assert.True(t, granted, "tier %d must be reachable", required)
	}
}
