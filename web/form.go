package web

import (
	"github.com/a-h/templ"

	"github.com/wpgarts/captcha/lib/localization"
)

// InputName is the form field carrying the caller's answer.
const InputName = "captcha_input"

// Form describes one rendering of the challenge form.
type Form struct {
	// Action is where the form posts to.
	Action string

	// ImageURL issues a fresh challenge every time it is fetched.
	ImageURL string

	// RefreshURL reloads the page holding the form.
	RefreshURL string

	// Failed shows the invalid code message above the form.
	Failed bool

	// Passed replaces the form with the accepted message.
	Passed bool
}

// ChallengeForm renders the image, the answer field and a link for a new
// code. Collaborators can embed it in their own pages.
func ChallengeForm(f Form, localizer *localization.SimpleLocalizer) templ.Component {
	return challengeForm(f, localizer)
}
