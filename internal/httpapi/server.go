// Package httpapi is the inbound HTTP surface: provider webhooks, liveness,
// and metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaystack/sms-mcp/internal/messaging"
	"github.com/relaystack/sms-mcp/internal/twilio"
)

const serviceName = "sms-mcp"

// emptyTwiML acknowledges an inbound message without instructing the provider
// to do anything.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

type Server struct {
	svc           *messaging.Service
	authToken     string
	publicBaseURL string
	logger        *slog.Logger
	metrics       *metrics
}

func NewServer(svc *messaging.Service, authToken string, publicBaseURL string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:           svc,
		authToken:     authToken,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		logger:        logger,
		metrics:       newMetrics(),
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	r.Route("/webhooks/twilio", func(r chi.Router) {
		r.Use(s.requireSignature)
		r.Post("/sms", s.handleInboundSMS)
		r.Post("/status", s.handleStatusCallback)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// requireSignature validates the provider's request signature before any
// handler runs. Invalid or missing signatures get a 403 and no storage
// mutation happens.
func (s *Server) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.metrics.observe(handlerName(r), "bad_request")
			http.Error(w, "unable to parse form", http.StatusBadRequest)
			return
		}

		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}

		signature := r.Header.Get("X-Twilio-Signature")
		if !twilio.ValidateSignature(s.authToken, signature, s.fullURL(r), params) {
			s.logger.Warn("webhook signature rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			s.metrics.observe(handlerName(r), "forbidden")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// fullURL reconstructs the externally visible request URL the provider signed.
func (s *Server) fullURL(r *http.Request) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.RequestURI())
}

func (s *Server) handleInboundSMS(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimSpace(r.PostForm.Get("MessageSid"))
	from := strings.TrimSpace(r.PostForm.Get("From"))
	to := strings.TrimSpace(r.PostForm.Get("To"))
	if sid == "" || from == "" || to == "" {
		s.metrics.observe("sms", "bad_request")
		http.Error(w, "missing MessageSid/From/To", http.StatusBadRequest)
		return
	}

	in := messaging.InboundMessage{
		Sid:       sid,
		From:      from,
		To:        to,
		Body:      r.PostForm.Get("Body"),
		MediaURLs: collectMediaURLs(r),
	}

	_, stored, err := s.svc.RecordInbound(r.Context(), in)
	if err != nil {
		s.logger.Error("inbound webhook failed", "sid", sid, "error", err)
		s.metrics.observe("sms", "error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if stored {
		s.metrics.observe("sms", "stored")
	} else {
		s.metrics.observe("sms", "dropped")
	}

	// The provider expects an acknowledgment either way; an empty TwiML
	// response means "received, nothing to do".
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

// handlerName maps a webhook path to its metric label.
func handlerName(r *http.Request) string {
	if strings.HasSuffix(r.URL.Path, "/status") {
		return "status"
	}
	return "sms"
}

func collectMediaURLs(r *http.Request) []string {
	numMedia, err := strconv.Atoi(strings.TrimSpace(r.PostForm.Get("NumMedia")))
	if err != nil || numMedia <= 0 {
		return nil
	}
	urls := make([]string, 0, numMedia)
	for i := 0; i < numMedia; i++ {
		u := strings.TrimSpace(r.PostForm.Get(fmt.Sprintf("MediaUrl%d", i)))
		if u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil
	}
	return urls
}

func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimSpace(r.PostForm.Get("MessageSid"))
	status := strings.TrimSpace(r.PostForm.Get("MessageStatus"))
	if sid == "" || status == "" {
		s.metrics.observe("status", "bad_request")
		http.Error(w, "missing MessageSid/MessageStatus", http.StatusBadRequest)
		return
	}

	err := s.svc.UpdateDeliveryStatus(r.Context(), sid, status,
		strings.TrimSpace(r.PostForm.Get("ErrorCode")),
		strings.TrimSpace(r.PostForm.Get("ErrorMessage")))
	if err != nil {
		var nf *messaging.NotFoundError
		if errors.As(err, &nf) {
			// Unknown sid: acknowledged anyway so the provider does not retry.
			s.logger.Warn("status callback for unknown message", "sid", sid, "status", status)
			s.metrics.observe("status", "unknown_sid")
			w.WriteHeader(http.StatusOK)
			return
		}
		s.logger.Error("status webhook failed", "sid", sid, "error", err)
		s.metrics.observe("status", "error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.metrics.observe("status", "updated")
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
