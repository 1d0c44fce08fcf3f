package profile

// Record is one applicant's structured profile. Field names and JSON keys
// follow the onboarding file format.
type Record struct {
	Name          string `json:"Name"`
	PreferredName string `json:"Preferred name,omitempty"`
	Address       string `json:"Address"`
	About         string `json:"About"`

	Education      []Education      `json:"Education"`
	WorkExperience []WorkExperience `json:"Work experience"`
	Organizations  []Organization   `json:"Organizations"`
	Certifications []Certification  `json:"Certification"`
	Projects       []Project        `json:"Projects"`
	Languages      []Language       `json:"Languages"`
}

type Education struct {
	Institution string   `json:"institution"`
	Degree      string   `json:"degree"`
	Field       string   `json:"field"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Skills      []string `json:"skills"`
}

type WorkExperience struct {
	Title            string   `json:"Title"`
	Company          string   `json:"Company"`
	Type             string   `json:"Type"`
	Location         string   `json:"Location"`
	Start            string   `json:"start"`
	End              string   `json:"end"`
	Responsibilities []string `json:"Responsibilities"`
	Skills           []string `json:"skills"`
}

type Organization struct {
	Organization     string   `json:"Organization"`
	Position         string   `json:"Position"`
	Start            string   `json:"start"`
	End              string   `json:"end"`
	Location         string   `json:"Location"`
	Responsibilities []string `json:"Responsibilities"`
	Skills           []string `json:"skills"`
}

type Certification struct {
	Title      string   `json:"Title"`
	Issuer     string   `json:"Issuer"`
	DateIssued string   `json:"date issued"`
	Skills     []string `json:"skills"`
}

type Project struct {
	Title       string   `json:"Title"`
	Duration    string   `json:"Duration"`
	Description string   `json:"Description"`
	Link        string   `json:"Project Link"`
	Skills      []string `json:"skills"`
}

// Language has no skills list; its name doubles as a skill token.
type Language struct {
	Language string `json:"Language"`
	Reading  string `json:"Reading proficiency"`
	Writing  string `json:"Writing Proficiency"`
	Speaking string `json:"Speaking proficiency"`
}

// Unknown is substituted for persona fields that are absent.
const Unknown = "Unknown"

// Persona holds the scalar identity fields interpolated into prompts.
type Persona struct {
	Name          string
	PreferredName string
	Address       string
	About         string
}

// Persona returns the record's persona with every empty field set to Unknown.
func (r Record) Persona() Persona {
	return Persona{
		Name:          orUnknown(r.Name),
		PreferredName: orUnknown(r.PreferredName),
		Address:       orUnknown(r.Address),
		About:         orUnknown(r.About),
	}
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
