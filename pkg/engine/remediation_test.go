package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRestrictMappingsStripsUntracedControls(t *testing.T) {
	doc := RemediationDocument{
		FrameworkMappings: map[string][]string{
			"NIST CSF":  {"PR.PS-06", "PR.XX-99"},
			"ISO 27001": {"A.8.28", "A.8.8", "A.9.9"},
		},
	}
	allowed := map[string]string{
		"PR.PS-06": "NIST CSF",
		"A.8.28":   "ISO 27001",
		"A.8.8":    "ISO 27001",
	}

	stripped := doc.RestrictMappings(allowed)

	assert.ElementsMatch(t, []string{"PR.XX-99", "A.9.9"}, stripped)
	assert.ElementsMatch(t, stripped, doc.StrippedControls)
	assert.Equal(t, []string{"PR.PS-06"}, doc.FrameworkMappings["NIST CSF"])
	assert.Equal(t, []string{"A.8.28", "A.8.8"}, doc.FrameworkMappings["ISO 27001"])
	for _, id := range doc.ControlIDs() {
		_, ok := allowed[id]
		assert.True(t, ok, "control %s is not traceable", id)
	}
}

func TestRestrictMappingsMovesMisfiledControl(t *testing.T) {
	doc := RemediationDocument{
		FrameworkMappings: map[string][]string{"NIST CSF": {"A.8.8", "A.8.8"}},
	}
	stripped := doc.RestrictMappings(map[string]string{"A.8.8": "ISO 27001"})

	assert.Empty(t, stripped)
	assert.Equal(t, map[string][]string{"ISO 27001": {"A.8.8"}}, doc.FrameworkMappings)
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("t", "Hello {{.Name}}", map[string]string{"Name": "world"})
	assert.NoError(t, err)
	assert.Equal(t, "Hello world", out)

	_, err = RenderTemplate("bad", "{{.Name", nil)
	assert.Error(t, err)
}

func TestDocumentRender(t *testing.T) {
	doc := RemediationDocument{
		Summary:           "Use parameterized queries",
		RemediationSteps:  []string{"Replace string concatenation", "Add tests"},
		FrameworkMappings: map[string][]string{"ISO 27001": {"A.8.28"}},
		Priority:          PriorityHigh,
	}
	out := doc.Render()
	assert.True(t, strings.Contains(out, "1. Replace string concatenation"))
	assert.True(t, strings.Contains(out, "ISO 27001: A.8.28"))
}
