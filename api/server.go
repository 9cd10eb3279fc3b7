// Copyright 2025 The dreamforge Authors
// This file is part of the dreamforge library.
//
// The dreamforge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The dreamforge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dreamforge library. If not, see <http://www.gnu.org/licenses/>.

// Package api exposes the pipeline engine over authenticated HTTP. Handlers
// validate the request boundary and translate engine errors into the wire
// envelope; all domain decisions stay in the engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/jackg825/dream-forge-web-sub001/core"
	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/errs"
	"github.com/jackg825/dream-forge-web-sub001/ledger"
	"github.com/jackg825/dream-forge-web-sub001/log"
	"github.com/jackg825/dream-forge-web-sub001/vision"
)

// Engine is the slice of the core engine the API serves. *core.Engine
// implements it.
type Engine interface {
	Create(userID string, p core.CreateParams) (*types.Pipeline, error)
	Get(userID, id string) (*types.Pipeline, error)
	List(userID string, status types.Status, limit int) ([]*types.Pipeline, error)
	Analyze(ctx context.Context, userID, id string, opts vision.AnalyzeOptions) (*types.Pipeline, error)
	UpdateAnalysis(userID, id string, analysis *types.ImageAnalysis) (*types.Pipeline, error)
	GenerateViews(ctx context.Context, userID, id string) (*types.Pipeline, error)
	RegenerateView(ctx context.Context, userID, id string, angle types.Angle, hint string) (*types.Pipeline, error)
	StartMesh(ctx context.Context, userID, id, provider string, extra map[string]string) (*types.Pipeline, error)
	StartTexture(ctx context.Context, userID, id, prompt string, enablePBR bool) (*types.Pipeline, error)
	CheckStatus(ctx context.Context, userID, id string) (*core.PollResult, error)
	ResetStep(userID, id string, target types.Status, keepResults bool) (*types.Pipeline, error)
}

// Server is the HTTP front of the engine.
type Server struct {
	engine Engine
	secret []byte
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer wires the handler tree. secret is the HS256 key the issued
// bearer tokens are signed with.
func NewServer(engine Engine, secret []byte) *Server {
	s := &Server{
		engine: engine,
		secret: secret,
		mux:    http.NewServeMux(),
		logger: log.New("module", "api"),
	}
	s.mux.HandleFunc("/v1/pipelines", s.auth(s.handleCollection))
	s.mux.HandleFunc("/v1/pipelines/", s.auth(s.handlePipeline))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type userKey struct{}

// auth validates the bearer token and stashes the subject as the caller id.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token", nil)
			return
		}
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid bearer token", nil)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, claims.Subject)))
	}
}

func caller(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

// IssueToken mints a bearer token for userID. Used by the daemon's token
// command and by tests; production deployments bring their own issuer
// sharing the secret.
func IssueToken(secret []byte, userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: userID})
	return token.SignedString(secret)
}

// errorBody is the wire error envelope.
type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]errorBody{"error": {Code: code, Message: message, Details: details}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fail maps engine and classifier errors onto the wire envelope.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "pipeline not found", nil)
		return
	case errors.Is(err, core.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied", "you do not own this pipeline", nil)
		return
	case errors.Is(err, core.ErrBusy):
		writeError(w, http.StatusConflict, "busy", "the pipeline is busy generating", nil)
		return
	case errors.Is(err, core.ErrInvalidState):
		writeError(w, http.StatusConflict, "failed_precondition", err.Error(), nil)
		return
	case errors.Is(err, ledger.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this step", nil)
		return
	}

	classified := errs.Classify(err)
	if classified.Category == errs.CategoryInternal {
		s.logger.Error("Unhandled API error", "err", err)
	}
	writeError(w, statusFor(classified), classified.Code, classified.UserMessage, classified)
}

func statusFor(c *errs.Classified) int {
	switch c.Category {
	case errs.CategoryValidation:
		return http.StatusBadRequest
	case errs.CategoryResource:
		return http.StatusTooManyRequests
	case errs.CategoryRateLimit:
		return http.StatusTooManyRequests
	case errs.CategorySafety:
		return http.StatusUnprocessableEntity
	case errs.CategoryNetwork, errs.CategoryService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode parses the JSON body into v. An empty body is tolerated so that
// actions with all-optional parameters can be POSTed bare.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}
