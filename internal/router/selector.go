// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router selects the upstream model for a bridged request. Selection
// is capability-driven: hard constraints filter the candidate pool, a static
// priority order tuned for vision fitness ranks the survivors, and every
// selection carries a computed confidence score plus a human-readable reason
// so callers can audit why a model was picked.
package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/traylinx/visionbridge/internal/registry"
)

// ErrNoCandidates indicates the candidate pool is empty after exclusions.
var ErrNoCandidates = errors.New("no candidate models available")

// RoutingRequest carries the caller-supplied hints for one selection.
// It is immutable for the lifetime of a pipeline invocation.
type RoutingRequest struct {
	// HasImage indicates the request carries an image payload.
	HasImage bool

	// ImageBytes is the size of the normalized image payload; 0 when unknown.
	ImageBytes int64

	// ImageFormat is the normalized image format ("png", "jpeg", ...);
	// empty when unknown.
	ImageFormat string

	// RequiresHighQuality prefers top-tier models over cheaper ones.
	RequiresHighQuality bool

	// RequiresFastResponse prefers low-latency models.
	RequiresFastResponse bool

	// MaxTokens is the requested completion budget; 0 means provider default.
	MaxTokens int

	// PreferredModel short-circuits selection when it satisfies hard
	// constraints.
	PreferredModel string

	// CostSensitive breaks priority ties toward cheaper models.
	CostSensitive bool

	// FallbackAllowed permits trying further candidates after a rejection.
	FallbackAllowed bool

	// Prompt is the text prompt, used only for token estimation.
	Prompt string
}

// ModelSelection is the outcome of one selection attempt.
type ModelSelection struct {
	// ModelID is the chosen model.
	ModelID string

	// Confidence is the selector's own confidence in this choice, in [0,1].
	Confidence float64

	// Reason explains the choice in human-readable form.
	Reason string
}

// defaultPriority is the static ranking tuned for vision fitness. Earlier
// entries are preferred when hard constraints leave several candidates.
var defaultPriority = []string{
	"gpt-4o",
	"gemini-2.0-flash",
	"gpt-4o-mini",
	"llava:13b",
	"gpt-4.1-nano",
}

// highQualityModels are the models recognized as top-tier picks under
// RequiresHighQuality.
var highQualityModels = map[string]bool{
	"gpt-4o":           true,
	"gemini-2.0-flash": true,
}

// fastModels are recognized low-latency picks under RequiresFastResponse.
var fastModels = map[string]bool{
	"gpt-4o-mini":      true,
	"gemini-2.0-flash": true,
	"gpt-4.1-nano":     true,
}

// Selector produces confidence-scored model selections from the capability
// registry. It holds no per-request state: the orchestrator passes the set of
// already-rejected models so a request never re-selects a model proven
// invalid during its own lifetime.
type Selector struct {
	registry  *registry.CapabilityRegistry
	priority  []string
	estimator *TokenEstimator
}

// NewSelector creates a selector over the given registry using the default
// vision-fitness priority order.
func NewSelector(reg *registry.CapabilityRegistry) *Selector {
	return &Selector{
		registry:  reg,
		priority:  defaultPriority,
		estimator: NewTokenEstimator(),
	}
}

// NewSelectorWithPriority creates a selector with a custom priority order.
func NewSelectorWithPriority(reg *registry.CapabilityRegistry, priority []string) *Selector {
	s := NewSelector(reg)
	if len(priority) > 0 {
		s.priority = priority
	}
	return s
}

// Select picks a model for the request, skipping every model in excluded.
// Hard-constraint filtering degrades softly: when no candidate satisfies the
// constraints the unfiltered pool is used and the confidence score reflects
// the mismatch instead of the selection failing outright.
func (s *Selector) Select(req RoutingRequest, excluded map[string]struct{}) (*ModelSelection, error) {
	if preferred := strings.TrimSpace(req.PreferredModel); preferred != "" {
		if _, skip := excluded[preferred]; !skip {
			if v := s.Validate(preferred, req); v.Valid {
				return &ModelSelection{
					ModelID:    preferred,
					Confidence: 1.0,
					Reason:     fmt.Sprintf("caller preferred model %s satisfies all constraints", preferred),
				}, nil
			}
		}
	}

	pool := make([]*registry.ModelCapability, 0)
	for _, c := range s.registry.All() {
		if _, skip := excluded[c.ModelID]; skip {
			continue
		}
		pool = append(pool, c)
	}
	if len(pool) == 0 {
		return nil, ErrNoCandidates
	}

	filtered := s.applyHardConstraints(pool, req)
	degraded := false
	if len(filtered) == 0 {
		// Soft degradation: better to answer with a mismatched model than
		// to fail the request outright.
		filtered = pool
		degraded = true
	}

	s.rank(filtered, req)
	pick := filtered[0]

	confidence, notes := s.score(pick, req)
	reason := fmt.Sprintf("ranked first among %d candidates", len(filtered))
	if degraded {
		reason = fmt.Sprintf("no candidate met hard constraints; degraded to %s", pick.ModelID)
	}
	if len(notes) > 0 {
		reason += " (" + strings.Join(notes, "; ") + ")"
	}

	return &ModelSelection{ModelID: pick.ModelID, Confidence: confidence, Reason: reason}, nil
}

// applyHardConstraints filters the pool by image support, image size and
// format limits, completion budget and context fit.
func (s *Selector) applyHardConstraints(pool []*registry.ModelCapability, req RoutingRequest) []*registry.ModelCapability {
	promptTokens := s.estimator.Estimate(req.Prompt)

	out := make([]*registry.ModelCapability, 0, len(pool))
	for _, c := range pool {
		if req.HasImage && !meetsImageRequirement(c, req) {
			continue
		}
		if req.MaxTokens > 0 && c.MaxOutputTokens > 0 && req.MaxTokens > c.MaxOutputTokens {
			continue
		}
		if c.ContextLength > 0 && promptTokens+req.MaxTokens > c.ContextLength {
			continue
		}
		out = append(out, c)
	}
	return out
}

// rank orders candidates by the static priority list. Models absent from the
// list sort last; cost-sensitive requests break priority gaps toward cheaper
// prompt pricing, fast-response requests toward recognized fast models.
func (s *Selector) rank(candidates []*registry.ModelCapability, req RoutingRequest) {
	index := func(id string) int {
		for i, p := range s.priority {
			if p == id {
				return i
			}
		}
		return len(s.priority)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if req.RequiresFastResponse && fastModels[ci.ModelID] != fastModels[cj.ModelID] {
			return fastModels[ci.ModelID]
		}
		ii, ij := index(ci.ModelID), index(cj.ModelID)
		if ii != ij {
			return ii < ij
		}
		if req.CostSensitive && ci.PricePerPromptToken != cj.PricePerPromptToken {
			return ci.PricePerPromptToken < cj.PricePerPromptToken
		}
		return ci.ModelID < cj.ModelID
	})
}

// score computes the confidence for a pick per the fixed scoring rules:
// 0.5 base, +0.3 when the pick meets a true HasImage requirement (support,
// size limit and format), +0.2 recognized high-quality pick under
// RequiresHighQuality, -0.5 when the pick does not meet the image
// requirement, clamped to [0,1].
func (s *Selector) score(pick *registry.ModelCapability, req RoutingRequest) (float64, []string) {
	confidence := 0.5
	var notes []string

	meetsImage := meetsImageRequirement(pick, req)
	if req.HasImage && meetsImage {
		confidence += 0.3
		notes = append(notes, "image-capable")
	}
	if req.RequiresHighQuality && highQualityModels[pick.ModelID] {
		confidence += 0.2
		notes = append(notes, "high-quality tier")
	}
	if req.HasImage && !meetsImage {
		confidence -= 0.5
		notes = append(notes, "does not meet image requirements")
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence, notes
}

// meetsImageRequirement reports whether the model can take the request's
// image payload: support, size limit and format all satisfied.
func meetsImageRequirement(c *registry.ModelCapability, req RoutingRequest) bool {
	if !c.SupportsImages {
		return false
	}
	if c.MaxImageBytes > 0 && req.ImageBytes > c.MaxImageBytes {
		return false
	}
	if req.ImageFormat != "" && !c.SupportsFormat(req.ImageFormat) {
		return false
	}
	return true
}
