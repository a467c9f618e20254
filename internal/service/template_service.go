// internal/service/template_service.go
package service

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"

	"github.com/mezamarco14/resu-sistem/internal/model"
)

// Content-IDs the layout uses for the shared inline images.
const (
	LogoContentID  = "logo"
	FlyerContentID = "flyer"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// RenderTemplate replaces every {{Field}} with the field value. Values are
// inserted verbatim, unknown fields become the empty string. Substituted values
// are never scanned again.
func RenderTemplate(tpl string, fields model.Fields) string {
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, _ := fields.Get(name)
		return value
	})
}

const layoutHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: Arial, sans-serif; margin: 0; padding: 0; background-color: #f6f7fb;">
    <div style="max-width: 600px; margin: 30px auto; background-color: #ffffff; border-radius: 12px; overflow: hidden;">
        {{- if .LogoCID}}
        <div style="background-color: rgb(45,54,111); text-align: center; padding: 20px;">
            <img src="cid:{{.LogoCID}}" alt="Logo" style="max-height: 70px;">
        </div>
        {{- end}}
        <div style="padding: 30px; line-height: 1.6; font-size: 15px; color: #333;">
            {{.Body}}
        </div>
        {{- if .FlyerCID}}
        <div style="text-align: center; padding: 0 30px 10px 30px;">
            <img src="cid:{{.FlyerCID}}" alt="Flyer" style="width: 100%; max-width: 540px; border-radius: 10px;">
        </div>
        {{- end}}
        {{- if .Footer}}
        <div style="padding: 20px 30px; line-height: 1.4; font-size: 13px; color: #666; border-top: 1px solid #eee;">
            {{.Footer}}
        </div>
        {{- end}}
    </div>
</body>
</html>
`

var layoutTemplate = template.Must(template.New("layout").Parse(layoutHTML))

type layoutData struct {
	Body     template.HTML
	Footer   template.HTML
	LogoCID  string
	FlyerCID string
}

// ComposeHTML wraps an already rendered body and footer in the mail layout.
// Body and footer are trusted HTML. Image blocks are emitted only when the
// matching inline attachment is present.
func ComposeHTML(body, footer string, withLogo, withFlyer bool) (string, error) {
	data := layoutData{
		Body:   template.HTML(body),
		Footer: template.HTML(footer),
	}
	if withLogo {
		data.LogoCID = LogoContentID
	}
	if withFlyer {
		data.FlyerCID = FlyerContentID
	}

	var buf bytes.Buffer
	if err := layoutTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render layout: %w", err)
	}
	return buf.String(), nil
}
