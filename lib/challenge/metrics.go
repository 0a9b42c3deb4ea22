package challenge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "captcha_challenges_issued",
		Help: "The total number of challenges issued",
	})

	challengesValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_challenges_validated",
		Help: "The total number of verification attempts by outcome",
	}, []string{"result"})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_store_errors",
		Help: "The total number of token store failures by operation",
	}, []string{"op"})
)

// Verification outcomes as reported in captcha_challenges_validated.
const (
	ResultPass      = "pass"
	ResultWrong     = "wrong"
	ResultNoBinding = "no_binding"
	ResultNotFound  = "not_found"
)
