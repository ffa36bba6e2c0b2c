package usecase

import (
	"bytes"
	"html/template"
)

const confirmationSubject = "Please confirm your email"

var confirmationTemplate = template.Must(template.New("confirm").Parse(`<p>Welcome! Thanks for signing up. Please follow this link to activate your account:</p>
<p><a href="{{.URL}}">{{.URL}}</a></p>
<br>
<p>Cheers!</p>
`))

func renderConfirmationEmail(confirmURL string) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, struct{ URL string }{URL: confirmURL}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
