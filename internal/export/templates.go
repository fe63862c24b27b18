package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var (
	caseloadTemplate *template.Template
	clientTemplate   *template.Template
)

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t any, layout string) string {
			switch v := t.(type) {
			case time.Time:
				return v.Format(layout)
			case *time.Time:
				if v == nil {
					return ""
				}
				return v.Format(layout)
			}
			return ""
		},
	}

	caseloadTemplate = template.Must(template.New("caseload").Funcs(funcMap).Parse(caseloadTemplateHTML))
	clientTemplate = template.Must(template.New("client").Funcs(funcMap).Parse(clientTemplateHTML))
}

// CaseloadRow is one client line on the caseload report.
type CaseloadRow struct {
	Name              string
	ExternalID        string
	PhoneNumber       string
	NextReviewLabel   string
	NextReviewDate    time.Time
	AnnualAssessment  time.Time
	ContactUrgency    string
	FaceToFaceUrgency string
	OpenTodos         int
}

// CaseloadData holds data for the caseload report template.
type CaseloadData struct {
	CaseManager string
	GeneratedAt time.Time
	Rows        []CaseloadRow
}

// ReviewRow is one quarterly review line on the client report.
type ReviewRow struct {
	Label      string
	Date       time.Time
	Completed  bool
	Overridden bool
}

// TodoRow is one todo line on the client report.
type TodoRow struct {
	Text      string
	Completed bool
	DueDate   *time.Time
}

// NoteRow is one note on the client report.
type NoteRow struct {
	Text      string
	CreatedAt time.Time
}

// ClientData holds data for the single-client report template.
type ClientData struct {
	Name                   string
	ExternalID             string
	PhoneNumber            string
	Insurance              string
	GeneratedAt            time.Time
	AnnualAssessment       time.Time
	Reviews                []ReviewRow
	NextReviewLabel        string
	NextReviewDate         time.Time
	FirstContactCompleted  bool
	SecondContactCompleted bool
	LastContact            *time.Time
	LastFaceToFace         *time.Time
	FaceToFaceDue          *time.Time
	ContactUrgency         string
	FaceToFaceUrgency      string
	Todos                  []TodoRow
	Notes                  []NoteRow
}

// RenderCaseloadHTML renders the caseload report template.
func RenderCaseloadHTML(data CaseloadData) (string, error) {
	var buf bytes.Buffer
	if err := caseloadTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderClientHTML renders the single-client report template.
func RenderClientHTML(data ClientData) (string, error) {
	var buf bytes.Buffer
	if err := clientTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportStyles = `
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 900px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #3b7a57; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; margin: 1rem 0; }
    th, td { border: 1px solid #ddd; padding: 6px 10px; text-align: left; font-size: 0.9em; }
    th { background: #f0f4f1; }
    .urgency-critical { color: #b91c1c; font-weight: bold; }
    .urgency-high { color: #c2410c; font-weight: bold; }
    .urgency-medium { color: #a16207; }
    .urgency-low { color: #15803d; }
    .urgency-nominal { color: #666; }
    .urgency-unknown { color: #999; font-style: italic; }
    .done { color: #15803d; }
    .section { margin-top: 2rem; }
    .note { background: #f5f5f5; padding: 0.75rem 1rem; margin: 0.5rem 0; border-left: 3px solid #3b7a57; }
`

const caseloadTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Caseload Report</title>
  <style>` + reportStyles + `</style>
</head>
<body>
  <h1>Caseload Report</h1>
  <div class="meta">{{.CaseManager}} | Generated {{formatDate .GeneratedAt "Jan 2, 2006"}} | {{len .Rows}} active clients</div>
  <table>
    <tr>
      <th>Client</th><th>Record ID</th><th>Phone</th>
      <th>Next Review</th><th>Annual Assessment</th>
      <th>Contact</th><th>Face to Face</th><th>Open Todos</th>
    </tr>
    {{range .Rows}}
    <tr>
      <td>{{.Name}}</td>
      <td>{{.ExternalID}}</td>
      <td>{{.PhoneNumber}}</td>
      <td>{{.NextReviewLabel}} ({{formatDate .NextReviewDate "Jan 2, 2006"}})</td>
      <td>{{formatDate .AnnualAssessment "Jan 2006"}}</td>
      <td class="urgency-{{lower .ContactUrgency}}">{{.ContactUrgency}}</td>
      <td class="urgency-{{lower .FaceToFaceUrgency}}">{{.FaceToFaceUrgency}}</td>
      <td>{{.OpenTodos}}</td>
    </tr>
    {{end}}
  </table>
</body>
</html>`

const clientTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Name}}</title>
  <style>` + reportStyles + `</style>
</head>
<body>
  <h1>{{.Name}}</h1>
  <div class="meta">
    Record ID {{.ExternalID}} | {{.PhoneNumber}} | {{.Insurance}}<br>
    Generated {{formatDate .GeneratedAt "Jan 2, 2006"}}
  </div>

  <div class="section">
    <h2>Review Schedule</h2>
    <p>Annual assessment: {{formatDate .AnnualAssessment "January 2006"}}.
       Next due: {{.NextReviewLabel}} on {{formatDate .NextReviewDate "Jan 2, 2006"}}.</p>
    <table>
      <tr><th>Review</th><th>Date</th><th>Status</th></tr>
      {{range .Reviews}}
      <tr>
        <td>{{.Label}}</td>
        <td>{{formatDate .Date "Jan 2, 2006"}}{{if .Overridden}} (adjusted){{end}}</td>
        <td>{{if .Completed}}<span class="done">Completed</span>{{else}}Pending{{end}}</td>
      </tr>
      {{end}}
    </table>
  </div>

  <div class="section">
    <h2>Contact Status</h2>
    <table>
      <tr><th></th><th>Status</th></tr>
      <tr><td>First contact this month</td><td>{{if .FirstContactCompleted}}<span class="done">Done</span>{{else}}Pending{{end}}</td></tr>
      <tr><td>Second contact this month</td><td>{{if .SecondContactCompleted}}<span class="done">Done</span>{{else}}Pending{{end}}</td></tr>
      <tr><td>Last contact</td><td>{{if .LastContact}}{{formatDate .LastContact "Jan 2, 2006"}}{{else}}Never recorded{{end}} <span class="urgency-{{lower .ContactUrgency}}">{{.ContactUrgency}}</span></td></tr>
      <tr><td>Last face to face</td><td>{{if .LastFaceToFace}}{{formatDate .LastFaceToFace "Jan 2, 2006"}}{{else}}Never recorded{{end}} <span class="urgency-{{lower .FaceToFaceUrgency}}">{{.FaceToFaceUrgency}}</span></td></tr>
      {{if .FaceToFaceDue}}<tr><td>Next face to face due</td><td>{{formatDate .FaceToFaceDue "Jan 2, 2006"}}</td></tr>{{end}}
    </table>
  </div>

  {{if .Todos}}
  <div class="section">
    <h2>Todos</h2>
    <table>
      <tr><th>Task</th><th>Due</th><th>Status</th></tr>
      {{range .Todos}}
      <tr>
        <td>{{.Text}}</td>
        <td>{{if .DueDate}}{{formatDate .DueDate "Jan 2, 2006"}}{{end}}</td>
        <td>{{if .Completed}}<span class="done">Done</span>{{else}}Open{{end}}</td>
      </tr>
      {{end}}
    </table>
  </div>
  {{end}}

  {{if .Notes}}
  <div class="section">
    <h2>Notes</h2>
    {{range .Notes}}
    <div class="note">{{.Text}}<br><small>{{formatDate .CreatedAt "Jan 2, 2006"}}</small></div>
    {{end}}
  </div>
  {{end}}
</body>
</html>`
