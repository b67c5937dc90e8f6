package messaging

import (
	"context"
	"net/http"

	"github.com/jonwraymond/steadycore/pool"
)

// session is one pooled HTTP client with its own connection pool.
type session struct {
	http *http.Client
}

func sessionFactory(base http.RoundTripper) pool.Funcs[*session] {
	return pool.Funcs[*session]{
		CreateFn: func(context.Context) (*session, error) {
			rt := base
			if rt == nil {
				rt = http.DefaultTransport.(*http.Transport).Clone()
			}
			return &session{http: &http.Client{Transport: rt}}, nil
		},
		DestroyFn: func(s *session) error {
			s.http.CloseIdleConnections()
			return nil
		},
	}
}
