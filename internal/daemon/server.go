package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/babelloop/babelloop/internal/errs"
	"github.com/babelloop/babelloop/internal/models"
)

// errorEnvelope is the wire shape of every non-2xx response.
type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

// Server exposes the service over HTTP.
type Server struct {
	svc    *Service
	logger *logrus.Entry
}

func NewServer(svc *Service) *Server {
	return &Server{
		svc:    svc,
		logger: logrus.WithField("component", "daemon_http"),
	}
}

// Handler builds the route table. Exposed separately so tests can mount it
// on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("POST /translate", s.handleTranslate)
	mux.HandleFunc("POST /backtranslate", s.handleBacktranslate)
	mux.HandleFunc("POST /models/verify", s.handleModelsVerify)
	mux.HandleFunc("POST /models/remove", s.handleModelsRemove)
	mux.HandleFunc("POST /models/install", s.handleModelsInstall)
	return mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Infof("local translation service listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warnf("failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	e := errs.AsError(err)
	var env errorEnvelope
	env.Error.Code = string(e.Kind)
	env.Error.Message = e.Message
	env.Error.Retryable = e.Kind.Retryable()
	s.writeJSON(w, e.Kind.HTTPStatus(), env)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, errs.User("invalid JSON body"))
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Health())
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.ModelsStatus())
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req TranslationRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.Translate(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBacktranslate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text             string `json:"text"`
		SourceLang       string `json:"source_lang"`
		IntermediateLang string `json:"intermediate_lang"`
		TargetLang       string `json:"target_lang"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.SourceLang == "" {
		req.SourceLang = "en"
	}
	if req.IntermediateLang == "" {
		req.IntermediateLang = "ja"
	}
	if req.TargetLang == "" {
		req.TargetLang = "en"
	}
	res, err := s.svc.Backtranslate(r.Context(), req.Text, req.SourceLang, req.IntermediateLang, req.TargetLang)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleModelsVerify(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.ModelsVerify())
}

func (s *Server) handleModelsRemove(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.ModelsRemove())
}

func (s *Server) handleModelsInstall(w http.ResponseWriter, r *http.Request) {
	var req models.InstallRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.ModelsInstall(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
