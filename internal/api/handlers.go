package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"dinner-roulette/internal/auth"
	"dinner-roulette/internal/dish"
	"dinner-roulette/internal/logging"
	"dinner-roulette/internal/party"
	"dinner-roulette/internal/preference"
)

type contextKey string

const claimsKey contextKey = "member_claims"

type nicknameRequest struct {
	Nickname string `json:"nickname"`
}

type chatRequest struct {
	Text string `json:"text"`
}

// membershipResponse is returned when a member enters a party.
type membershipResponse struct {
	Party  party.Party  `json:"party"`
	Member party.Member `json:"member"`
	Token  string       `json:"token"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, APIError{Code: "UNAUTHORIZED", Message: "missing bearer token"})
			return
		}

		claims, err := s.tokens.Verify(token, roomCode(r))
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func memberID(r *http.Request) string {
	claims, _ := r.Context().Value(claimsKey).(*auth.MemberClaims)
	if claims == nil {
		return ""
	}
	return claims.MemberID()
}

func roomCode(r *http.Request) string {
	return party.NormalizeCode(chi.URLParam(r, "code"))
}

func (s *Server) createParty(w http.ResponseWriter, r *http.Request) {
	var req nicknameRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	p, m, err := s.parties.CreateParty(r.Context(), req.Nickname)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	s.respondMembership(w, r, http.StatusCreated, p, m)
}

func (s *Server) joinParty(w http.ResponseWriter, r *http.Request) {
	var req nicknameRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	p, m, err := s.parties.JoinParty(r.Context(), roomCode(r), req.Nickname)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	s.respondMembership(w, r, http.StatusOK, p, m)
}

func (s *Server) respondMembership(w http.ResponseWriter, r *http.Request, status int, p party.Party, m party.Member) {
	token, err := s.tokens.Issue(p.Code, m.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, status, membershipResponse{Party: p, Member: m, Token: token})
}

func (s *Server) leaveParty(w http.ResponseWriter, r *http.Request) {
	if err := s.parties.LeaveParty(r.Context(), roomCode(r), memberID(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) closeParty(w http.ResponseWriter, r *http.Request) {
	if err := s.parties.CloseParty(r.Context(), roomCode(r), memberID(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}
	p, err := s.parties.Party(r.Context(), roomCode(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) submitPreferences(w http.ResponseWriter, r *http.Request) {
	var pref preference.MemberPreference
	if err := decodeJSON(r, &pref); err != nil {
		respondServiceError(w, r, err)
		return
	}

	result, err := s.parties.SubmitPreferences(r.Context(), roomCode(r), memberID(r), pref)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) constraints(w http.ResponseWriter, r *http.Request) {
	result, err := s.parties.MergedConstraints(r.Context(), roomCode(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) spin(w http.ResponseWriter, r *http.Request) {
	var req party.SpinRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	rec, err := s.parties.Spin(r.Context(), roomCode(r), memberID(r), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, APIError{Code: "VALIDATION_ERROR", Message: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	spins, err := s.parties.History(r.Context(), roomCode(r), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, spins)
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	msg, err := s.parties.PostChat(r.Context(), roomCode(r), memberID(r), req.Text)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, msg)
}

func (s *Server) soloSpin(w http.ResponseWriter, r *http.Request) {
	var req party.SoloSpinRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	rec, err := s.parties.SoloSpin(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) listDishes(w http.ResponseWriter, r *http.Request) {
	var (
		dishes []dish.Dish
		err    error
	)
	if raw := r.URL.Query().Get("category"); raw != "" {
		category := dish.Category(strings.ToLower(raw))
		if !category.Valid() {
			respondError(w, http.StatusBadRequest, APIError{Code: "VALIDATION_ERROR", Message: "unknown category " + raw})
			return
		}
		dishes, err = s.dishes.ListByCategory(r.Context(), category)
	} else {
		dishes, err = s.dishes.List(r.Context())
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dishes)
}

// subscribe authenticates through the query string since browsers cannot set
// headers on websocket handshakes.
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	code := roomCode(r)
	claims, err := s.tokens.Verify(r.URL.Query().Get("token"), code)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if _, err := s.parties.Member(r.Context(), code, claims.MemberID()); err != nil {
		respondServiceError(w, r, err)
		return
	}

	if err := s.hub.ServeWS(w, r, code, claims.MemberID()); err != nil {
		logging.Warn().Err(err).Str("room", code).Msg("Websocket upgrade failed")
	}
}
