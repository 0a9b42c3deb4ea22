package internal

import (
	"net"
	"net/http"

	"github.com/sebest/xff"
)

// XForwardedForToXRealIP sets X-Real-Ip from the first public address in
// X-Forwarded-For when a reverse proxy did not set it already.
func XForwardedForToXRealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Real-Ip") == "" {
			if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
				if ip := xff.Parse(forwarded); ip != "" {
					r.Header.Set("X-Real-Ip", ip)
				}
			}
		}

		next.ServeHTTP(w, r)
	})
}

// RemoteXRealIP sets X-Real-Ip to the TCP peer address. It is only used when
// the service is exposed directly and no proxy header can be trusted.
func RemoteXRealIP(useRemoteAddress bool, bindNetwork string, next http.Handler) http.Handler {
	if !useRemoteAddress {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch bindNetwork {
		case "unix":
			r.Header.Set("X-Real-Ip", "127.0.0.1")
		default:
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			r.Header.Set("X-Real-Ip", host)
		}

		next.ServeHTTP(w, r)
	})
}

// NoStoreCache marks every response as uncacheable. Challenge images and
// verification results are single use.
func NoStoreCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		next.ServeHTTP(w, r)
	})
}
