package lib

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wpgarts/captcha"
	"github.com/wpgarts/captcha/internal"
	"github.com/wpgarts/captcha/lib/challenge"
	"github.com/wpgarts/captcha/lib/localization"
	"github.com/wpgarts/captcha/lib/render"
	"github.com/wpgarts/captcha/lib/session"
	"github.com/wpgarts/captcha/web"
)

var (
	imagesServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "captcha_images_served",
		Help: "The total number of challenge images served",
	})

	verifyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_verify_requests",
		Help: "The total number of verification requests by entry point",
	}, []string{"source"})
)

type Server struct {
	mux        *http.ServeMux
	opts       Options
	cookieName string
	signer     *session.Signer
	generator  *challenge.Generator
	verifier   *challenge.Verifier
	renderer   *render.Renderer
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) cookiePath() string {
	if captcha.BasePrefix != "" {
		return strings.TrimSuffix(captcha.BasePrefix, "/") + "/"
	}
	return "/"
}

func (s *Server) path(p string) string {
	return strings.TrimSuffix(captcha.BasePrefix, "/") + p
}

// loadBinding reads the session cookie. A missing cookie is an empty
// binding. A cookie that fails validation is treated as empty and marked for
// clearing.
func (s *Server) loadBinding(r *http.Request, lg *slog.Logger) *session.Binding {
	ckie, err := r.Cookie(s.cookieName)
	if err != nil {
		return session.New("")
	}

	b, err := s.signer.Parse(ckie.Value)
	if err != nil {
		lg.Debug("discarding session cookie", "err", err)
		b = session.New("")
		b.Set("")
	}

	return b
}

// saveBinding rewrites the session cookie if the binding changed. It must
// run before anything is written to the body.
func (s *Server) saveBinding(w http.ResponseWriter, r *http.Request, b *session.Binding) error {
	if !b.Dirty() {
		return nil
	}

	if _, ok := b.ID(); !ok {
		s.ClearCookie(w, CookieOpts{Host: r.Host, Path: s.cookiePath()})
		return nil
	}

	tokenString, err := s.signer.Sign(b)
	if err != nil {
		return fmt.Errorf("can't sign session: %w", err)
	}

	s.SetCookie(w, CookieOpts{Value: tokenString, Host: r.Host, Path: s.cookiePath()})
	return nil
}

// ServeChallengeImage issues a challenge bound to the caller's session and
// responds with its image.
func (s *Server) ServeChallengeImage(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	localizer := localization.GetLocalizer(r)

	b := s.loadBinding(r, lg)

	answer, err := s.generator.Generate(r.Context(), b)
	if err != nil {
		lg.Error("can't generate challenge", "err", err)
		http.Error(w, localizer.T("internal_server_error"), statusFor(err))
		return
	}

	img, err := s.renderer.Render(answer)
	if err != nil {
		lg.Error("can't render challenge", "err", err)
		http.Error(w, localizer.T("internal_server_error"), http.StatusInternalServerError)
		return
	}

	if err := s.saveBinding(w, r, b); err != nil {
		lg.Error("can't save session", "err", err)
		http.Error(w, localizer.T("internal_server_error"), http.StatusInternalServerError)
		return
	}

	id, _ := b.ID()
	lg.Debug("issued challenge", internal.TokenAttr(id))
	imagesServed.Inc()

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

type verifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ServeVerify checks the submitted answer and reports {"valid": bool}.
func (s *Server) ServeVerify(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	verifyRequests.WithLabelValues("api").Inc()

	ok, err := s.Check(w, r, submittedAnswer(r))
	if err != nil {
		lg.Error("can't verify challenge", "err", err)
		writeJSON(w, statusFor(err), verifyResponse{
			Valid: false,
			Error: localization.GetLocalizer(r).T("internal_server_error"),
		})
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{Valid: ok})
}

// Check verifies input against the challenge bound to the request's session
// and updates the session cookie on w. Pages that embed the challenge form
// call it synchronously before accepting their own submission.
func (s *Server) Check(w http.ResponseWriter, r *http.Request, input string) (bool, error) {
	lg := internal.GetRequestLogger(r)
	b := s.loadBinding(r, lg)
	id, _ := b.ID()

	ok, err := s.verifier.Verify(r.Context(), b, input)
	if err != nil {
		return false, err
	}

	if err := s.saveBinding(w, r, b); err != nil {
		return false, err
	}

	lg.Debug("verified challenge", internal.TokenAttr(id), "valid", ok)
	return ok, nil
}

// ServeDemo shows the challenge form on its own page.
func (s *Server) ServeDemo(w http.ResponseWriter, r *http.Request) {
	s.renderForm(w, r, web.Form{})
}

// SubmitDemo verifies a form post from ServeDemo. A wrong answer shows the
// form again with a fresh challenge.
func (s *Server) SubmitDemo(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	localizer := localization.GetLocalizer(r)
	verifyRequests.WithLabelValues("form").Inc()

	ok, err := s.Check(w, r, submittedAnswer(r))
	if err != nil {
		lg.Error("can't verify challenge", "err", err)
		s.respondWithStatus(w, r, localizer.T("internal_server_error"), statusFor(err))
		return
	}

	s.renderForm(w, r, web.Form{Passed: ok, Failed: !ok})
}

func (s *Server) renderForm(w http.ResponseWriter, r *http.Request, f web.Form) {
	localizer := localization.GetLocalizer(r)

	f.Action = s.path(captcha.PagePrefix)
	f.RefreshURL = s.path(captcha.PagePrefix)
	f.ImageURL = fmt.Sprintf("%s?generate=1&v=%x", s.path(captcha.ImagePath), rand.Uint64())

	s.renderPage(w, r, localizer.T("captcha_title"), web.ChallengeForm(f, localizer), http.StatusOK)
}

// submittedAnswer reads captcha_input, falling back to the older captcha
// field name.
func submittedAnswer(r *http.Request) string {
	if v := r.FormValue(web.InputName); v != "" {
		return v
	}
	return r.FormValue("captcha")
}

func statusFor(err error) int {
	var cerr *challenge.Error
	if errors.As(err, &cerr) && cerr.StatusCode != 0 {
		return cerr.StatusCode
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("can't write JSON response", "err", err)
	}
}
