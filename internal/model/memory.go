// Package model defines the core memory data types.
package model

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Domain is the top-level grouping of the category taxonomy.
type Domain string

const (
	DomainSelf      Domain = "self"
	DomainSocial    Domain = "social"
	DomainKnowledge Domain = "knowledge"
	DomainInterest  Domain = "interest"
	DomainEpisode   Domain = "episode"
	DomainMeta      Domain = "meta"
)

// ValidDomains are the allowed taxonomy domains.
var ValidDomains = map[Domain]bool{
	DomainSelf:      true,
	DomainSocial:    true,
	DomainKnowledge: true,
	DomainInterest:  true,
	DomainEpisode:   true,
	DomainMeta:      true,
}

// Status is the lifecycle state of a memory or link.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// CategoryRef names one category assigned to a memory.
type CategoryRef struct {
	Domain Domain `json:"domain"`
	Name   string `json:"name"`
}

// Path returns the "domain/name" form used by the taxonomy.
func (c CategoryRef) Path() string {
	return string(c.Domain) + "/" + c.Name
}

// ParseCategoryRef splits a "domain/name" path. The second return is false
// when the path is malformed.
func ParseCategoryRef(path string) (CategoryRef, bool) {
	domain, name, ok := strings.Cut(strings.TrimSpace(path), "/")
	if !ok || domain == "" || name == "" {
		return CategoryRef{}, false
	}
	return CategoryRef{Domain: Domain(domain), Name: name}, true
}

// VAD is a valence/arousal/dominance emotional descriptor. Each axis lies in [-1, 1].
type VAD struct {
	Valence   float64 `json:"valence"`
	Arousal   float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
}

// Finite reports whether every axis is a real number.
func (v VAD) Finite() bool {
	return Finite(v.Valence) && Finite(v.Arousal) && Finite(v.Dominance)
}

// Clamp returns v with every axis forced into [-1, 1]. NaN becomes 0.
func (v VAD) Clamp() VAD {
	return VAD{
		Valence:   clamp(v.Valence, -1, 1),
		Arousal:   clamp(v.Arousal, -1, 1),
		Dominance: clamp(v.Dominance, -1, 1),
	}
}

// Memory is a single knowledge unit. Records are immutable once written except
// for status, access tracking and enrichment attributes.
type Memory struct {
	ID                string        `json:"id"`
	OwnerID           string        `json:"owner_id"`
	Content           string        `json:"content"`
	Categories        []CategoryRef `json:"categories"`
	VAD               VAD           `json:"vad"`
	Keywords          []string      `json:"keywords,omitempty"`
	Tags              []string      `json:"tags,omitempty"`
	Importance        float64       `json:"importance"`
	ParentID          string        `json:"parent_id,omitempty"`
	RootID            string        `json:"root_id"`
	Version           int           `json:"version"`
	Stamp             int64         `json:"-"`
	Trigger           string        `json:"trigger,omitempty"`
	Status            Status        `json:"status"`
	ArchiveReason     string        `json:"archive_reason,omitempty"`
	EnrichmentPending bool          `json:"enrichment_pending"`
	AccessCount       int           `json:"access_count"`
	LastAccessedAt    *time.Time    `json:"last_accessed_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Active reports whether the memory is the current, non-archived record.
func (m *Memory) Active() bool { return m.Status == StatusActive }

// LastTouched returns the last access time, or creation time if never read.
func (m *Memory) LastTouched() time.Time {
	if m.LastAccessedAt != nil {
		return *m.LastAccessedAt
	}
	return m.CreatedAt
}

// Clone returns a deep copy so cached values are never shared with callers.
func (m *Memory) Clone() *Memory {
	c := *m
	c.Categories = append([]CategoryRef(nil), m.Categories...)
	c.Keywords = append([]string(nil), m.Keywords...)
	c.Tags = append([]string(nil), m.Tags...)
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		c.LastAccessedAt = &t
	}
	return &c
}

// LinkType is the kind of a directed memory link.
type LinkType string

const (
	LinkRelated     LinkType = "related"
	LinkContradicts LinkType = "contradicts"
	LinkElaborates  LinkType = "elaborates"
	LinkCauses      LinkType = "causes"
	LinkSupersedes  LinkType = "supersedes"
)

// ValidLinkTypes are the allowed link types.
var ValidLinkTypes = map[LinkType]bool{
	LinkRelated:     true,
	LinkContradicts: true,
	LinkElaborates:  true,
	LinkCauses:      true,
	LinkSupersedes:  true,
}

// MemoryLink is a directed, typed, weighted edge. At most one link exists per
// (SourceID, TargetID, Type).
type MemoryLink struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Type      LinkType  `json:"link_type"`
	Strength  float64   `json:"strength"`
	Reason    string    `json:"reason"`
	CreatedBy string    `json:"created_by"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Category is a taxonomy entry.
type Category struct {
	Domain        Domain  `json:"domain" yaml:"-"`
	Name          string  `json:"name" yaml:"name"`
	FullPath      string  `json:"full_path" yaml:"-"`
	ImportanceMin float64 `json:"importance_min" yaml:"min"`
	ImportanceMax float64 `json:"importance_max" yaml:"max"`
}

// Allows reports whether importance falls inside the category's range.
func (c Category) Allows(importance float64) bool {
	return importance >= c.ImportanceMin && importance <= c.ImportanceMax
}

// CompactionRecord is the audit trail of one compaction run.
type CompactionRecord struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	AbsorbedMemoryIDs []string  `json:"absorbed_memory_ids"`
	ResultingMemoryID string    `json:"resulting_memory_id"`
	TriggeredAt       time.Time `json:"triggered_at"`
	TokenCountBefore  int       `json:"token_count_before"`
	TokenCountAfter   int       `json:"token_count_after"`
}

// NormalizeTerms trims, lower-cases, de-duplicates and sorts keyword/tag sets.
func NormalizeTerms(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// UnionCategories merges category sets preserving first-seen order.
func UnionCategories(sets ...[]CategoryRef) []CategoryRef {
	seen := map[CategoryRef]bool{}
	var out []CategoryRef
	for _, set := range sets {
		for _, c := range set {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 forces v into [0, 1]. NaN becomes 0.
func Clamp01(v float64) float64 { return clamp(v, 0, 1) }
