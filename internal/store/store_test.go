package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openhearth/hearth/internal/types"
)

func TestMemorySettingsRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	s, err := m.ConversationSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.MaxMessages != 20 {
		t.Fatalf("seeded max_messages = %d, want 20", s.MaxMessages)
	}

	s.MaxMessages = 5
	if err := m.SaveConversationSettings(ctx, s); err != nil {
		t.Fatal(err)
	}
	got, _ := m.ConversationSettings(ctx)
	if got.MaxMessages != 5 {
		t.Errorf("max_messages = %d after save, want 5", got.MaxMessages)
	}
}

func TestMemoryRequiredFlagCannotBeDisabled(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// facade_handlers is seeded as required.
	_, err := m.SetFeature(ctx, types.FeatureFacade, false)
	if !errors.Is(err, ErrRequiredFlag) {
		t.Fatalf("err = %v, want ErrRequiredFlag", err)
	}

	f, err := m.SetFeature(ctx, types.FeatureRedisCaching, false)
	if err != nil {
		t.Fatal(err)
	}
	if f.Enabled {
		t.Error("redis_caching still enabled after toggle")
	}

	_, err = m.SetFeature(ctx, "no_such_flag", true)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown flag err = %v, want ErrNotFound", err)
	}
}

func TestMemoryLLMBackendCRUD(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.UpsertLLMBackend(ctx, types.LLMBackend{ModelName: "llama3"})
	if err == nil {
		t.Fatal("want validation error for missing endpoint")
	}

	b, err := m.UpsertLLMBackend(ctx, types.LLMBackend{
		ModelName:   "llama3",
		BackendType: types.BackendPrimary,
		Endpoint:    "http://llm:11434",
		Enabled:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.ID == 0 {
		t.Fatal("upsert assigned no id")
	}

	b.Endpoint = "http://llm2:11434"
	if _, err := m.UpsertLLMBackend(ctx, b); err != nil {
		t.Fatal(err)
	}
	rows, _ := m.LLMBackends(ctx)
	if len(rows) != 1 || rows[0].Endpoint != "http://llm2:11434" {
		t.Errorf("rows = %+v", rows)
	}

	if err := m.DeleteLLMBackend(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteLLMBackend(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryClarificationRuleCRUD(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rule := types.ClarificationRule{
		Kind:           "sports_team",
		Enabled:        true,
		TimeoutSeconds: 120,
		OptionSource:   types.OptionsStatic,
	}
	if err := m.UpsertClarificationRule(ctx, rule); err != nil {
		t.Fatal(err)
	}
	rules, _ := m.ClarificationRules(ctx)
	if len(rules) != 1 || rules[0].TimeoutSeconds != 120 {
		t.Fatalf("rules = %+v", rules)
	}

	if err := m.DeleteClarificationRule(ctx, "sports_team"); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteClarificationRule(ctx, "sports_team"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryAuditNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now()

	for i, entity := range []string{"features", "llm_backends", "sports_teams"} {
		err := m.AppendAudit(ctx, types.AuditRecord{
			Actor:     "ops",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Entity:    entity,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recs, err := m.Audit(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Entity != "sports_teams" {
		t.Errorf("newest entity = %q, want sports_teams", recs[0].Entity)
	}
}
