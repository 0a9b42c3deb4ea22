// Package web holds the HTML pages served next to the challenge API: the
// embeddable challenge form, the demo page around it and the error page.
package web

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.906 generate

import (
	"github.com/a-h/templ"

	"github.com/wpgarts/captcha/lib/config"
	"github.com/wpgarts/captcha/lib/localization"
)

// Base wraps body in a full HTML document. impressum may be nil.
func Base(title string, body templ.Component, impressum *config.Impressum, localizer *localization.SimpleLocalizer) templ.Component {
	return base(title, body, impressum, localizer)
}

// ErrorPage shows msg and, when mail is set, how to reach the operator.
func ErrorPage(msg string, mail string, localizer *localization.SimpleLocalizer) templ.Component {
	return errorPage(msg, mail, localizer)
}
