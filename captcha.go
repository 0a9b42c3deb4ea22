// Package captcha contains the version number and shared constants of the
// security code service.
package captcha

import "time"

// Version is the current version of the service.
//
// This variable is set at build time using the -X linker flag. If not set,
// it defaults to "devel".
var Version = "devel"

// CookieName is the name of the cookie that carries the session binding.
var CookieName = "wpgarts-captcha-session"

// WithDomainCookieName is the prefix used for the session cookie when the
// cookie is scoped to an explicit domain.
var WithDomainCookieName = "wpgarts-captcha-session-for-"

// BasePrefix is a global prefix for all service endpoints. It is set from
// the -base-prefix flag.
var BasePrefix = ""

// PagePrefix is where the demo page and the challenge image live.
const PagePrefix = "/captcha/"

// APIPrefix is the path prefix under which the generate and verify
// endpoints are mounted.
const APIPrefix = PagePrefix + "api/"

// ImagePath serves a freshly generated challenge image. The `generate` query
// parameter older embeds send is accepted and ignored.
const ImagePath = PagePrefix + "captcha.png"

// Alphabet is the set of characters answers are drawn from. Characters that
// are easy to confuse with each other (0/O, 1/I) are left out.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultAnswerLength is the number of characters in every answer.
const DefaultAnswerLength = 5

// DefaultChallengeTTL is how long an unanswered challenge stays valid.
const DefaultChallengeTTL = 15 * time.Minute

// DefaultCookieExpirationTime is how long the session binding cookie lives.
const DefaultCookieExpirationTime = 30 * time.Minute

// DefaultImageWidth and DefaultImageHeight are the dimensions of rendered
// challenges in pixels.
const (
	DefaultImageWidth  = 180
	DefaultImageHeight = 60
)
