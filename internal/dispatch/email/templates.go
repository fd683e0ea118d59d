package email

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"leadflow/backend/internal/dispatch"
)

const htmlBody = `<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; color: #1f2933;">
    <h2 style="margin-bottom: 4px;">{{.AppName}} {{.PurposeLabel}}</h2>
    <p>Use the following code to continue:</p>
    <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
    <p>This code is valid for {{.Validity}}. If you did not request it, you can ignore this email.</p>
    <p style="color: #7b8794; font-size: 12px;">Never share this code with anyone, including {{.AppName}} staff.</p>
  </body>
</html>
`

const textBody = `{{.AppName}} {{.PurposeLabel}}

Your code is: {{.Code}}

This code is valid for {{.Validity}}. If you did not request it, you can ignore this email.
Never share this code with anyone, including {{.AppName}} staff.
`

var (
	htmlTmpl = htmltemplate.Must(htmltemplate.New("otp.html").Parse(htmlBody))
	textTmpl = texttemplate.Must(texttemplate.New("otp.txt").Parse(textBody))
)

type templateData struct {
	AppName      string
	PurposeLabel string
	Code         string
	Validity     string
}

// Render builds the subject, HTML and plain-text bodies for a code message.
func Render(appName string, msg dispatch.Message) (subject, html, text string, err error) {
	data := templateData{
		AppName:      appName,
		PurposeLabel: msg.Purpose.Label(),
		Code:         msg.Code,
		Validity:     dispatch.ValidityText(msg.Validity),
	}
	var hb, tb bytes.Buffer
	if err := htmlTmpl.Execute(&hb, data); err != nil {
		return "", "", "", err
	}
	if err := textTmpl.Execute(&tb, data); err != nil {
		return "", "", "", err
	}
	subject = strings.TrimSpace(appName + " " + msg.Purpose.Label() + " code")
	return subject, hb.String(), tb.String(), nil
}
