package notification

import (
	"fmt"
	"strings"
	"text/template"
)

type messageData struct {
	Actor    string
	CaseName string
	TestName string
}

var messageTemplates = map[Type]*template.Template{
	TypeNewFeedback:        template.Must(template.New(string(TypeNewFeedback)).Parse(`{{.Actor}} left feedback on the case for {{.CaseName}}.`)),
	TypeTestRequested:      template.Must(template.New(string(TypeTestRequested)).Parse(`{{.Actor}} requested a {{.TestName}} test for {{.CaseName}}.`)),
	TypeTestFulfilled:      template.Must(template.New(string(TypeTestFulfilled)).Parse(`{{.Actor}} submitted {{.TestName}} results for {{.CaseName}}.`)),
	TypeSpecialistFeedback: template.Must(template.New(string(TypeSpecialistFeedback)).Parse(`{{.Actor}} provided specialist feedback for {{.CaseName}}.`)),
}

func renderMessage(t Type, d messageData) (string, error) {
	tpl, ok := messageTemplates[t]
	if !ok {
		return "", fmt.Errorf("no message template for %q", t)
	}
	if d.Actor == "" {
		d.Actor = "Someone"
	}
	if d.CaseName == "" {
		d.CaseName = "a patient"
	}
	var b strings.Builder
	if err := tpl.Execute(&b, d); err != nil {
		return "", fmt.Errorf("render %s message: %w", t, err)
	}
	return b.String(), nil
}
