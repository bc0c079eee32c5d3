package generator

import (
	"embed"
	"fmt"
	"strings"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/retriever"
)

//go:embed prompts/system.md prompts/*/*.tmpl
var promptFS embed.FS

// Expertise selects the prompt variant for the reader of the document.
type Expertise string

const (
	Beginner     Expertise = "beginner"
	Intermediate Expertise = "intermediate"
	Advanced     Expertise = "advanced"
)

var Expertises = []Expertise{Beginner, Intermediate, Advanced}

// ParseExpertise maps a profile name to a tier; unknown names get
// Intermediate.
func ParseExpertise(s string) Expertise {
	switch Expertise(strings.ToLower(strings.TrimSpace(s))) {
	case Beginner, "junior":
		return Beginner
	case Advanced, "expert", "senior", "architect":
		return Advanced
	}
	return Intermediate
}

// SystemPrompt returns the instructions shared by every variant.
func SystemPrompt() string {
	data, err := promptFS.ReadFile("prompts/system.md")
	if err != nil {
		panic(err) // embedded at build time
	}
	return string(data)
}

type promptVars struct {
	Finding  engine.Finding
	Context  string
	Grounded bool
}

// variantName is the (category, expertise) key, e.g. "dependency/advanced".
func variantName(c engine.Category, e Expertise) string {
	return string(c) + "/" + string(e)
}

// BuildPrompt renders the user prompt for one finding. Exactly one
// template exists for each category and expertise pair.
func BuildPrompt(f engine.Finding, rctx retriever.Context, e Expertise) (variant, prompt string, err error) {
	variant = variantName(f.Category, e)
	tmpl, err := promptFS.ReadFile("prompts/" + variant + ".tmpl")
	if err != nil {
		return variant, "", fmt.Errorf("no prompt variant %s: %w", variant, err)
	}
	prompt, err = engine.RenderTemplate(variant, string(tmpl), promptVars{
		Finding:  f,
		Context:  rctx.Format(),
		Grounded: !rctx.Empty(),
	})
	return variant, prompt, err
}
