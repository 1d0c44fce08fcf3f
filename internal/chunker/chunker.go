// Package chunker turns a profile record into retrieval chunks: one
// narrative chunk per record in narrative categories, and one chunk per
// distinct skill token.
package chunker

import (
	"fmt"
	"strings"

	"github.com/kalambet/applyd/internal/profile"
)

// Category identifies one section of a profile record.
type Category string

const (
	Education     Category = "education"
	Experience    Category = "experience"
	Organization  Category = "organization"
	Certification Category = "certification"
	Project       Category = "project"
	Language      Category = "language"
)

// CategorySpec controls how a category participates in indexing.
type CategorySpec struct {
	Category Category
	// InNarrative emits one narrative chunk per record.
	InNarrative bool
	// InSkillUnion contributes the category's skill tokens to the skill set.
	InSkillUnion bool
	// MetaKey names the metadata field that identifies a narrative chunk.
	MetaKey string
}

// Categories is the fixed category table in chunking order. Projects are
// kept out of the narrative index but their skills are indexed and they are
// reachable through skill back-references.
var Categories = []CategorySpec{
	{Category: Education, InNarrative: true, InSkillUnion: true, MetaKey: "institution"},
	{Category: Experience, InNarrative: true, InSkillUnion: true, MetaKey: "title"},
	{Category: Organization, InNarrative: true, InSkillUnion: true, MetaKey: "position"},
	{Category: Certification, InNarrative: true, InSkillUnion: true, MetaKey: "title"},
	{Category: Project, InNarrative: false, InSkillUnion: true, MetaKey: "title"},
	{Category: Language, InNarrative: true, InSkillUnion: true, MetaKey: "language"},
}

// Chunk is a unit of text stored in an embedding index.
type Chunk struct {
	Content  string
	Metadata map[string]string
	Category Category
}

// Entry is one rendered profile record together with the skill tokens it
// can be matched by.
type Entry struct {
	Category Category
	Text     string
	// Skills lists the record's skill tokens. For a language this is its name.
	Skills []string
	// Key is the identifying field value stored in narrative metadata.
	Key string
}

// Entries renders every record of one category, in record order.
func Entries(rec profile.Record, c Category) []Entry {
	var out []Entry
	switch c {
	case Education:
		for _, e := range rec.Education {
			out = append(out, Entry{Category: c, Text: renderEducation(e), Skills: e.Skills, Key: e.Institution})
		}
	case Experience:
		for _, e := range rec.WorkExperience {
			out = append(out, Entry{Category: c, Text: renderExperience(e), Skills: e.Skills, Key: e.Title})
		}
	case Organization:
		for _, o := range rec.Organizations {
			out = append(out, Entry{Category: c, Text: renderOrganization(o), Skills: o.Skills, Key: o.Position})
		}
	case Certification:
		for _, ct := range rec.Certifications {
			out = append(out, Entry{Category: c, Text: renderCertification(ct), Skills: ct.Skills, Key: ct.Title})
		}
	case Project:
		for _, p := range rec.Projects {
			out = append(out, Entry{Category: c, Text: renderProject(p), Skills: p.Skills, Key: p.Title})
		}
	case Language:
		for _, l := range rec.Languages {
			out = append(out, Entry{Category: c, Text: renderLanguage(l), Skills: []string{l.Language}, Key: l.Language})
		}
	}
	return out
}

// Narrative returns one chunk per record of every narrative category, in
// table order and then record order.
func Narrative(rec profile.Record) []Chunk {
	var chunks []Chunk
	for _, spec := range Categories {
		if !spec.InNarrative {
			continue
		}
		for _, e := range Entries(rec, spec.Category) {
			chunks = append(chunks, Chunk{
				Content:  e.Text,
				Category: spec.Category,
				Metadata: map[string]string{
					"type":       string(spec.Category),
					spec.MetaKey: e.Key,
				},
			})
		}
	}
	return chunks
}

// Skills returns one chunk per distinct skill token across all skill-union
// categories. Tokens are trimmed, empty tokens are dropped, and the output
// keeps first-seen order.
func Skills(rec profile.Record) []Chunk {
	var set orderedSet
	for _, spec := range Categories {
		if !spec.InSkillUnion {
			continue
		}
		for _, e := range Entries(rec, spec.Category) {
			for _, s := range e.Skills {
				set.add(strings.TrimSpace(s))
			}
		}
	}

	chunks := make([]Chunk, 0, len(set.items))
	for _, s := range set.items {
		chunks = append(chunks, Chunk{
			Content:  s,
			Metadata: map[string]string{"type": "skill"},
		})
	}
	return chunks
}

type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func (s *orderedSet) add(v string) {
	if v == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func renderEducation(e profile.Education) string {
	return fmt.Sprintf("[Education]\nInstitution: %s\nDegree: %s in %s\nDuration: %s - %s\nSkills: %s",
		e.Institution, e.Degree, e.Field, e.Start, e.End, joinSkills(e.Skills))
}

func renderExperience(e profile.WorkExperience) string {
	return fmt.Sprintf("[Work Experience]\nTitle: %s at %s (%s)\nLocation: %s\nDuration: %s - %s\nResponsibilities:\n- %s\nSkills: %s",
		e.Title, e.Company, e.Type, e.Location, e.Start, e.End,
		strings.Join(e.Responsibilities, "\n- "), joinSkills(e.Skills))
}

func renderOrganization(o profile.Organization) string {
	return fmt.Sprintf("[Organization]\nOrganization: %s\nPosition: %s\nDuration: %s - %s\nLocation: %s\nResponsibilities:\n- %s\nSkills: %s",
		o.Organization, o.Position, o.Start, o.End, o.Location,
		strings.Join(o.Responsibilities, "\n- "), joinSkills(o.Skills))
}

func renderCertification(c profile.Certification) string {
	return fmt.Sprintf("[Certification]\nTitle: %s\nIssuer: %s\nDate Issued: %s\nSkills: %s",
		c.Title, c.Issuer, c.DateIssued, joinSkills(c.Skills))
}

func renderProject(p profile.Project) string {
	return fmt.Sprintf("[Projects]\nTitle: %s\nDuration: %s\nDescription: %s\nProject Link: %s\nSkills: %s",
		p.Title, p.Duration, p.Description, p.Link, joinSkills(p.Skills))
}

func renderLanguage(l profile.Language) string {
	return fmt.Sprintf("[Language]\nLanguage: %s\nProficiency (R/W/S): %s / %s / %s",
		l.Language, l.Reading, l.Writing, l.Speaking)
}

func joinSkills(skills []string) string {
	return strings.Join(skills, ", ")
}
