package chunker

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kalambet/applyd/internal/profile"
)

func sampleRecord() profile.Record {
	return profile.Record{
		Name: "Ada",
		Education: []profile.Education{
			{Institution: "Cambridge", Degree: "BSc", Field: "Mathematics", Start: "2015", End: "2019", Skills: []string{"Python", " Statistics "}},
		},
		WorkExperience: []profile.WorkExperience{
			{Title: "Engineer", Company: "Acme", Type: "Full-time", Location: "Remote", Start: "2019", End: "2023",
				Responsibilities: []string{"Built APIs", "Ran on-call"}, Skills: []string{"Go", "Python"}},
		},
		Organizations: []profile.Organization{
			{Organization: "PyLadies", Position: "Organizer", Start: "2020", End: "2022", Location: "London",
				Responsibilities: []string{"Meetups"}, Skills: []string{"Community", ""}},
		},
		Certifications: []profile.Certification{
			{Title: "CKA", Issuer: "CNCF", DateIssued: "2021", Skills: []string{"Kubernetes"}},
		},
		Projects: []profile.Project{
			{Title: "Vectors", Duration: "3 months", Description: "Search engine", Link: "https://example.com", Skills: []string{"Go", "Rust"}},
		},
		Languages: []profile.Language{
			{Language: "French", Reading: "C2", Writing: "C1", Speaking: "B2"},
		},
	}
}

func TestNarrative_OrderAndMetadata(t *testing.T) {
	chunks := Narrative(sampleRecord())

	var gotMeta []map[string]string
	for _, c := range chunks {
		gotMeta = append(gotMeta, c.Metadata)
	}
	wantMeta := []map[string]string{
		{"type": "education", "institution": "Cambridge"},
		{"type": "experience", "title": "Engineer"},
		{"type": "organization", "position": "Organizer"},
		{"type": "certification", "title": "CKA"},
		{"type": "language", "language": "French"},
	}
	if diff := cmp.Diff(wantMeta, gotMeta); diff != "" {
		t.Errorf("narrative metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestNarrative_ExcludesProjects(t *testing.T) {
	for _, c := range Narrative(sampleRecord()) {
		if c.Category == Project || strings.HasPrefix(c.Content, "[Projects]") {
			t.Errorf("narrative chunk from a project: %q", c.Content)
		}
	}
}

func TestNarrative_Templates(t *testing.T) {
	chunks := Narrative(sampleRecord())

	want := []string{
		"[Education]\nInstitution: Cambridge\nDegree: BSc in Mathematics\nDuration: 2015 - 2019\nSkills: Python,  Statistics ",
		"[Work Experience]\nTitle: Engineer at Acme (Full-time)\nLocation: Remote\nDuration: 2019 - 2023\nResponsibilities:\n- Built APIs\n- Ran on-call\nSkills: Go, Python",
		"[Organization]\nOrganization: PyLadies\nPosition: Organizer\nDuration: 2020 - 2022\nLocation: London\nResponsibilities:\n- Meetups\nSkills: Community, ",
		"[Certification]\nTitle: CKA\nIssuer: CNCF\nDate Issued: 2021\nSkills: Kubernetes",
		"[Language]\nLanguage: French\nProficiency (R/W/S): C2 / C1 / B2",
	}
	var got []string
	for _, c := range chunks {
		got = append(got, c.Content)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rendered text mismatch (-want +got):\n%s", diff)
	}
}

func TestNarrative_EmptyRecord(t *testing.T) {
	if got := Narrative(profile.Record{}); len(got) != 0 {
		t.Errorf("Narrative(empty) = %d chunks, want 0", len(got))
	}
}

func TestSkills_DedupTrimAndFirstSeenOrder(t *testing.T) {
	chunks := Skills(sampleRecord())

	var got []string
	for _, c := range chunks {
		got = append(got, c.Content)
		if diff := cmp.Diff(map[string]string{"type": "skill"}, c.Metadata); diff != "" {
			t.Errorf("skill metadata mismatch for %q (-want +got):\n%s", c.Content, diff)
		}
	}
	want := []string{"Python", "Statistics", "Go", "Community", "Kubernetes", "Rust", "French"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("skills mismatch (-want +got):\n%s", diff)
	}
}

func TestSkills_Deterministic(t *testing.T) {
	rec := sampleRecord()
	first := Skills(rec)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, Skills(rec)); diff != "" {
			t.Fatalf("Skills output changed between runs (-first +now):\n%s", diff)
		}
	}
}

func TestSkills_NoEmptyOrDuplicate(t *testing.T) {
	rec := profile.Record{
		Education: []profile.Education{{Skills: []string{"Go", "Go ", " ", "go"}}},
		Languages: []profile.Language{{Language: "Go"}},
	}
	var got []string
	for _, c := range Skills(rec) {
		got = append(got, c.Content)
	}
	want := []string{"Go", "go"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("skills mismatch (-want +got):\n%s", diff)
	}
}

func TestEntries_LanguageSkillIsName(t *testing.T) {
	entries := Entries(sampleRecord(), Language)
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if diff := cmp.Diff([]string{"French"}, entries[0].Skills); diff != "" {
		t.Errorf("language skills mismatch (-want +got):\n%s", diff)
	}
}

func TestEntries_ProjectTemplate(t *testing.T) {
	entries := Entries(sampleRecord(), Project)
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	want := "[Projects]\nTitle: Vectors\nDuration: 3 months\nDescription: Search engine\nProject Link: https://example.com\nSkills: Go, Rust"
	if entries[0].Text != want {
		t.Errorf("project text = %q, want %q", entries[0].Text, want)
	}
}
