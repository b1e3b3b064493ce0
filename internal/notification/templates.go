package notification

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sync"
)

//go:embed templates/*.html
var templateFS embed.FS

var subjects = map[string]func(Fields) string{
	TemplateOverageInitial: func(f Fields) string {
		return fmt.Sprintf("Action needed: seat limit changes to %v on %v", f["new_limit"], f["effective_date"])
	},
	TemplateOverageFinal: func(f Fields) string {
		return fmt.Sprintf("Reminder: seat limit changes in %v days", f["days_until"])
	},
	TemplateGraceDaily: func(f Fields) string {
		return fmt.Sprintf("%v users over your seat limit, %v days left", f["excess_count"], f["remaining_days"])
	},
	TemplateUserDeactivated: func(Fields) string {
		return "Your account was deactivated"
	},
	TemplateDeactivationSummary: func(f Fields) string {
		return fmt.Sprintf("%v users were deactivated", f["count"])
	},
	TemplateInvoiceIssued: func(f Fields) string {
		return fmt.Sprintf("Invoice %v issued", f["invoice_number"])
	},
	TemplatePaymentReceipt: func(f Fields) string {
		return fmt.Sprintf("Payment received for invoice %v", f["invoice_number"])
	},
}

var (
	parseOnce sync.Once
	parsed    map[string]*template.Template
	parseErr  error
)

func loadTemplates() (map[string]*template.Template, error) {
	parseOnce.Do(func() {
		parsed = make(map[string]*template.Template, len(subjects))
		for name := range subjects {
			tmpl, err := template.ParseFS(templateFS, "templates/"+name+".html")
			if err != nil {
				parseErr = fmt.Errorf("parse template %s: %w", name, err)
				return
			}
			parsed[name] = tmpl
		}
	})
	return parsed, parseErr
}

// Render returns the subject and HTML body of msg.
func Render(msg Message) (string, string, error) {
	subject, ok := subjects[msg.Template]
	if !ok {
		return "", "", ErrUnknownTemplate
	}
	templates, err := loadTemplates()
	if err != nil {
		return "", "", err
	}

	var body bytes.Buffer
	if err := templates[msg.Template].Execute(&body, map[string]any(msg.Fields)); err != nil {
		return "", "", fmt.Errorf("render %s: %w", msg.Template, err)
	}
	return subject(msg.Fields), body.String(), nil
}
