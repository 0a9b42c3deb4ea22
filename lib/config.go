package lib

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/wpgarts/captcha"
	"github.com/wpgarts/captcha/internal"
	"github.com/wpgarts/captcha/lib/challenge"
	"github.com/wpgarts/captcha/lib/config"
	"github.com/wpgarts/captcha/lib/render"
	"github.com/wpgarts/captcha/lib/session"
	"github.com/wpgarts/captcha/lib/store"
	"github.com/wpgarts/captcha/web"
)

type Options struct {
	Store store.Interface
	Clock clock.Clock

	ChallengeLength int
	Alphabet        string
	ChallengeTTL    time.Duration
	Render          render.Options

	Impressum      *config.Impressum
	WebmasterEmail string

	CookieDynamicDomain bool
	CookieDomain        string
	CookieExpiration    time.Duration
	CookiePartitioned   bool
	CookieSecure        bool
	BasePrefix          string

	ED25519PrivateKey ed25519.PrivateKey
	HS512Secret       []byte

	ServeRobotsTXT bool
}

func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("lib: no store configured")
	}

	if opts.ED25519PrivateKey == nil && opts.HS512Secret == nil {
		slog.Debug("opts.PrivateKey not set, generating a new one")
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("lib: can't generate private key: %v", err)
		}
		opts.ED25519PrivateKey = priv
	}

	if opts.CookieExpiration == 0 {
		opts.CookieExpiration = captcha.DefaultCookieExpirationTime
	}

	captcha.BasePrefix = opts.BasePrefix

	cookieName := captcha.CookieName
	if opts.CookieDomain != "" {
		cookieName = captcha.WithDomainCookieName + opts.CookieDomain
	}

	signer, err := session.NewSigner(opts.ED25519PrivateKey, opts.HS512Secret, opts.CookieExpiration, opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("lib: %w", err)
	}

	gen, err := challenge.NewGenerator(challenge.GeneratorOptions{
		Store:    opts.Store,
		Clock:    opts.Clock,
		Length:   opts.ChallengeLength,
		Alphabet: opts.Alphabet,
		TTL:      opts.ChallengeTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("lib: %w", err)
	}

	result := &Server{
		opts:       opts,
		cookieName: cookieName,
		signer:     signer,
		generator:  gen,
		verifier:   challenge.NewVerifier(opts.Store),
		renderer:   render.New(opts.Render),
	}

	mux := http.NewServeMux()

	registerWithPrefix := func(pattern string, handler http.Handler, method string) {
		if method != "" {
			method = method + " " // methods must end with a space to register with them
		}

		basePrefix := strings.TrimSuffix(captcha.BasePrefix, "/")
		if !strings.HasPrefix(pattern, "/") {
			pattern = "/" + pattern
		}

		mux.Handle(method+basePrefix+pattern, handler)
	}

	noStore := func(h http.HandlerFunc) http.Handler {
		return internal.NoStoreCache(h)
	}

	registerWithPrefix(captcha.PagePrefix+"{$}", noStore(result.ServeDemo), "GET")
	registerWithPrefix(captcha.PagePrefix+"{$}", noStore(result.SubmitDemo), "POST")
	registerWithPrefix(captcha.ImagePath, noStore(result.ServeChallengeImage), "GET")
	registerWithPrefix(captcha.APIPrefix+"generate", noStore(result.ServeChallengeImage), "GET")
	registerWithPrefix(captcha.APIPrefix+"verify", noStore(result.ServeVerify), "POST")

	if opts.ServeRobotsTXT {
		serveRobots := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.ServeFileFS(w, r, web.Static, "static/robots.txt")
		})
		registerWithPrefix("/robots.txt", serveRobots, "GET")
		registerWithPrefix("/.well-known/robots.txt", serveRobots, "GET")
	}

	result.mux = mux

	return result, nil
}
