// Package dev provides tools for local development: a mock gateway served
// over httptest and an in-process storage host that speaks the real host
// wire protocol over QUIC. Both are used heavily by the package tests and
// are handy for running the upload tool against a loopback network.
package dev

import (
	"net/http"
	"net/http/httptest"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
)

// Server a local dev server to mock the gateway APIs
type Server struct {
	*httptest.Server
	*mux.Router
}

// NewServer create a local dev server. Approval pages are opened from a
// browser, so the signed API headers are allowed cross-origin.
func NewServer() *Server {
	headersOk := handlers.AllowedHeaders([]string{
		"X-Requested-With", common.ClientKeyHeader,
		common.TimestampHeader, common.RequestHashHeader,
		common.ClientSignatureHeader, "Content-Type",
	})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{
		http.MethodGet, http.MethodPost, http.MethodOptions,
	})

	router := mux.NewRouter()
	s := &Server{
		Router: router,
		Server: httptest.NewServer(handlers.CORS(originsOk, headersOk, methodsOk)(router)),
	}

	return s
}

// NewGatewayServer create a local dev gateway server
func NewGatewayServer(opts ...GatewayOption) (*Server, *Gateway) {
	s := NewServer()

	g := NewGateway(s.URL, opts...)
	g.RegisterHandlers(s.Router)

	return s, g
}
