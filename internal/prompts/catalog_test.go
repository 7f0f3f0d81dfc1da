package prompts

import (
	"encoding/json"
	"strings"
	"testing"
	"text/template"
)

func TestExtractVariables(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"plain", "no fields here", nil},
		{"nested and repeated", "Page {{.PageNum}} of {{ .Book.Title }} ({{.PageNum}})", []string{"Book.Title", "PageNum"}},
		{"if pipeline", "{{- if .Curriculum}}{{.Curriculum}}{{end}}", []string{"Curriculum"}},
		{"range element fields", "{{range .Pages}}{{.Summary}} {{$.Title}}{{else}}{{.Empty}}{{end}}", []string{"Empty", "Pages", "Title"}},
		{"function args", "{{add .N 1}}", []string{"N"}},
		{"unparsable", "{{.Open", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractVariables(tt.text)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ExtractVariables = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractVariables_BoundaryPrompt(t *testing.T) {
	got := strings.Join(ExtractVariables(`{{range .OpenSubtopics}}- {{.TopicKey}}{{end}}Current page {{.PageNum}}`), ",")
	if got != "OpenSubtopics,PageNum" {
		t.Errorf("ExtractVariables = %s", got)
	}
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	c.Register(EmbeddedPrompt{Key: "b.user", Text: "{{.X}}"})
	c.Register(EmbeddedPrompt{Key: "a.system", Text: "plain"})

	list := c.List()
	if len(list) != 2 || list[0].Key != "a.system" {
		t.Fatalf("List = %+v", list)
	}
	p, ok := c.Get("b.user")
	if !ok {
		t.Fatal("expected b.user")
	}
	if p.Hash != HashText("{{.X}}") || len(p.Variables) != 1 {
		t.Errorf("hash/variables not filled: %+v", p)
	}
}

func TestRender(t *testing.T) {
	tmpl := template.Must(template.New("t").Funcs(Funcs).Parse("{{add .N 1}}"))
	got, err := Render(tmpl, struct{ N int }{N: 4})
	if err != nil || got != "5" {
		t.Errorf("Render = %q, %v", got, err)
	}
}

func TestMustSchema(t *testing.T) {
	raw := MustSchema("x", map[string]any{"type": "object"})
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["name"] != "x" || doc["schema"] == nil {
		t.Errorf("unexpected wrapper %s", raw)
	}
}
