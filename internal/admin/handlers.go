package admin

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/types"
)

// The prior* lookups return the stored value of an entity before a mutation,
// or nil when none exists yet. Lookup errors degrade to nil so the write is
// never blocked by the audit trail.

func (s *Server) priorClarificationRule(ctx context.Context, kind string) any {
	rules, err := s.store.ClarificationRules(ctx)
	if err != nil {
		return nil
	}
	for _, r := range rules {
		if r.Kind == kind {
			return r
		}
	}
	return nil
}

func (s *Server) priorSportsTeam(ctx context.Context, trigger string) any {
	teams, err := s.store.SportsTeams(ctx)
	if err != nil {
		return nil
	}
	for _, t := range teams {
		if t.Trigger == trigger {
			return t
		}
	}
	return nil
}

func (s *Server) priorDeviceRule(ctx context.Context, kind string) any {
	rules, err := s.store.DeviceRules(ctx)
	if err != nil {
		return nil
	}
	for _, r := range rules {
		if r.DeviceKind == kind {
			return r
		}
	}
	return nil
}

func (s *Server) priorFeature(ctx context.Context, name string) any {
	flags, err := s.store.Features(ctx)
	if err != nil {
		return nil
	}
	for _, f := range flags {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (s *Server) getConversationSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ConversationSettings(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) putConversationSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	before, _ := s.store.ConversationSettings(ctx)

	var settings types.ConversationSettings
	if !decodeBody(w, r, &settings) {
		return
	}
	if settings.MaxMessages < 0 || settings.TimeoutSeconds < 0 {
		respondError(w, http.StatusBadRequest, "negative values are not allowed")
		return
	}
	if err := s.store.SaveConversationSettings(ctx, settings); err != nil {
		respondStoreError(w, err)
		return
	}
	s.audit(ctx, "conversation_settings", before, settings, config.KindConversationSettings)
	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) getClarificationSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ClarificationSettings(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) putClarificationSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	before, _ := s.store.ClarificationSettings(ctx)

	var settings types.ClarificationSettings
	if !decodeBody(w, r, &settings) {
		return
	}
	if settings.TimeoutSeconds < 0 {
		respondError(w, http.StatusBadRequest, "timeout_seconds must not be negative")
		return
	}
	if err := s.store.SaveClarificationSettings(ctx, settings); err != nil {
		respondStoreError(w, err)
		return
	}
	s.audit(ctx, "clarification_settings", before, settings, config.KindClarificationSettings)
	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) listClarificationRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ClarificationRules(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

func (s *Server) putClarificationRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := chi.URLParam(r, "kind")

	var rule types.ClarificationRule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.Kind = kind

	before := s.priorClarificationRule(ctx, kind)
	if err := s.store.UpsertClarificationRule(ctx, rule); err != nil {
		respondStoreError(w, err)
		return
	}
	s.audit(ctx, "clarification_rule:"+kind, before, rule, config.KindClarificationRules)
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) deleteClarificationRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := chi.URLParam(r, "kind")

	before := s.priorClarificationRule(ctx, kind)
	if err := s.store.DeleteClarificationRule(ctx, kind); err != nil {
		respondStoreError(w, err)
		return
	}
	s.audit(ctx, "clarification_rule:"+kind, before, nil, config.KindClarificationRules)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSportsTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.store.SportsTeams(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, teams)
}

func (s *Server) putSportsTeam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	trigger := chi.URLParam(r, "trigger")

	var team types.SportsTeam
	if !decodeBody(w, r, &team) {
		return
	}
	team.Trigger = trigger
	if len(team.Options) < 2 {
		respondError(w, http.StatusBadRequest, "a disambiguation entry needs at least two options")
		return
	}

	before := s.priorSportsTeam(ctx, trigger)
	if err := s.store.UpsertSportsTeam(ctx, team); err != nil {
		respondStoreError(w, err)
		return
	}
	s.audit(ctx, "sports_team:"+trigger, before, team, config.KindSportsTeams)
	respondJSON(w, http.StatusOK, team)
}

func (s *Server) deleteSportsTeam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	trigger := chi.URLParam(r, "trigger")

	before := s.priorSportsTeam(ctx, trigger)
	if err := s.store.DeleteSportsTeam(ctx, trigger); err != nil {
		respondStoreError(w, err)
		return
	}
	s.audit(ctx, "sports_team:"+trigger, before, nil, config.KindSportsTeams)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDeviceRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.DeviceRules(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

func (s *Server) putDeviceRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := chi.URLParam(r, "kind")

	var rule types.DeviceRule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.DeviceKind = kind
	if rule.MinEntitiesToAsk < 0 {
		respondError(w, http.StatusBadRequest, "min_entities_to_ask must not be negative")
		return
	}

	before := s.priorDeviceRule(ctx, kind)
	if err := s.store.UpsertDeviceRule(ctx, rule); err != nil {
		respondStoreError(w, err)
		return
	}
	s.audit(ctx, "device_rule:"+kind, before, rule, config.KindDeviceRules)
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) deleteDeviceRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := chi.URLParam(r, "kind")

	before := s.priorDeviceRule(ctx, kind)
	if err := s.store.DeleteDeviceRule(ctx, kind); err != nil {
		respondStoreError(w, err)
		return
	}
	s.audit(ctx, "device_rule:"+kind, before, nil, config.KindDeviceRules)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listFeatures(w http.ResponseWriter, r *http.Request) {
	flags, err := s.store.Features(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, flags)
}

func (s *Server) toggleFeature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	before := s.priorFeature(ctx, name)
	flag, err := s.store.SetFeature(ctx, name, body.Enabled)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	s.audit(ctx, "feature:"+name, before, flag, config.KindFeatures)
	respondJSON(w, http.StatusOK, flag)
}
