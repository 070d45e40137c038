package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/osr-alliance/backend-lead-pipeline/lead"
)

// TemplateKey names a message template.
type TemplateKey string

const (
	Initial      TemplateKey = "initial"
	FollowupDay3 TemplateKey = "followup_day3"
	FollowupDay7 TemplateKey = "followup_day7"
)

// ForDay returns the follow-up template for day.
func ForDay(day lead.FollowupDay) TemplateKey {
	return TemplateKey(fmt.Sprintf("followup_%s", day))
}

// Template is one message. NeedsPDF templates link the report; Day is the
// follow-up latch set after a successful send (0 for the initial email).
type Template struct {
	Key      TemplateKey
	NeedsPDF bool
	Day      lead.FollowupDay

	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// messageData is what templates render against.
type messageData struct {
	CompanyName    string
	ReadinessScore int
	CostLow        int
	CostHigh       int
	AuditDate      string
	PDFURL         string
	UnsubscribeURL string
}

type rendered struct {
	Subject string
	Text    string
	HTML    string
}

func (t *Template) render(d messageData) (*rendered, error) {
	var subject, text, html bytes.Buffer
	if err := t.subject.Execute(&subject, d); err != nil {
		return nil, err
	}
	if err := t.text.Execute(&text, d); err != nil {
		return nil, err
	}
	if err := t.html.Execute(&html, d); err != nil {
		return nil, err
	}
	return &rendered{Subject: subject.String(), Text: text.String(), HTML: html.String()}, nil
}

func newTemplate(key TemplateKey, day lead.FollowupDay, subject, text, html string) *Template {
	return &Template{
		Key:      key,
		NeedsPDF: true,
		Day:      day,
		subject:  texttemplate.Must(texttemplate.New(string(key) + ".subject").Parse(subject)),
		text:     texttemplate.Must(texttemplate.New(string(key) + ".txt").Parse(text)),
		html:     htmltemplate.Must(htmltemplate.New(string(key) + ".html").Parse(html)),
	}
}

const footerText = `
--
You received this because you requested a readiness report.
Unsubscribe: {{.UnsubscribeURL}}
`

const footerHTML = `<hr><p style="font-size:12px;color:#666">You received this because you requested a readiness report.
<a href="{{.UnsubscribeURL}}">Unsubscribe</a></p>`

var templates = map[TemplateKey]*Template{
	Initial: newTemplate(Initial, 0,
		`Your SOC 2 readiness report for {{.CompanyName}}`,
		`Hi,

Your readiness score is {{.ReadinessScore}}/100 and the estimated cost of getting audit-ready is ${{.CostLow}} - ${{.CostHigh}}.

Download the full report (link expires in 7 days):
{{.PDFURL}}
`+footerText,
		`<p>Hi {{.CompanyName}} team,</p>
<p>Your readiness score is <strong>{{.ReadinessScore}}/100</strong> and the estimated cost of getting audit-ready is ${{.CostLow}} - ${{.CostHigh}}.</p>
<p><a href="{{.PDFURL}}">Download the full report</a> (link expires in 7 days).</p>
`+footerHTML),

	FollowupDay3: newTemplate(FollowupDay3, lead.Day3,
		`{{.CompanyName}}: three things to do before your audit`,
		`Hi,

A few days ago you scored {{.ReadinessScore}}/100. Teams that close the gap fastest start with a gap assessment, evidence collection and policy sign-off.

Your report is still here:
{{.PDFURL}}
`+footerText,
		`<p>Hi {{.CompanyName}} team,</p>
<p>A few days ago you scored <strong>{{.ReadinessScore}}/100</strong>. Teams that close the gap fastest start with a gap assessment, evidence collection and policy sign-off.</p>
<p><a href="{{.PDFURL}}">Open your report</a></p>
`+footerHTML),

	FollowupDay7: newTemplate(FollowupDay7, lead.Day7,
		`Is {{.CompanyName}} on track for {{.AuditDate}}?`,
		`Hi,

Your audit target is {{.AuditDate}}. If you want help planning the remaining work, reply to this email.

Your report:
{{.PDFURL}}
`+footerText,
		`<p>Hi {{.CompanyName}} team,</p>
<p>Your audit target is <strong>{{.AuditDate}}</strong>. If you want help planning the remaining work, reply to this email.</p>
<p><a href="{{.PDFURL}}">Your report</a></p>
`+footerHTML),
}

// Lookup returns the template for key.
func Lookup(key TemplateKey) (*Template, bool) {
	t, ok := templates[key]
	return t, ok
}
