// Package contest implements the contest lifecycle: creation, discovery,
// joining, cancellation, and the background status sweep.
//
// Status is evaluated lazily against the clock on every read (see
// model.Contest.EffectiveStatus); the sweeper persists the transitions so
// stored rows converge even when nobody is looking at them.
package contest

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockarena/contest-engine/internal/auth"
	"github.com/stockarena/contest-engine/internal/httpx"
	"github.com/stockarena/contest-engine/internal/metrics"
	"github.com/stockarena/contest-engine/internal/model"
	"github.com/stockarena/contest-engine/internal/store"
)

// defaultVirtualBudget is the starting cash balance when a creator does not
// specify one.
var defaultVirtualBudget = decimal.NewFromInt(100000)

// Service handles contest lifecycle operations.
type Service struct {
	store store.Store
}

// NewService creates a contest service backed by the given store.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

type createRequest struct {
	Name            string          `json:"name"`
	IsPrivate       bool            `json:"isPrivate"`
	VirtualBudget   decimal.Decimal `json:"virtualBudget"`
	MaxParticipants int             `json:"maxParticipants"`
	StartTime       time.Time       `json:"startTime"`
	EndTime         time.Time       `json:"endTime"`
}

// HandleCreate handles POST /api/v1/contests/create. The creator is admitted
// as the first participant in the same request.
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		httpx.WriteError(w, fmt.Errorf("%w: name is required", model.ErrValidation))
		return
	}
	if req.MaxParticipants < 2 {
		httpx.WriteError(w, fmt.Errorf("%w: maxParticipants must be at least 2", model.ErrValidation))
		return
	}
	if req.StartTime.IsZero() {
		httpx.WriteError(w, fmt.Errorf("%w: startTime is required", model.ErrValidation))
		return
	}
	if !req.EndTime.After(req.StartTime) {
		httpx.WriteError(w, fmt.Errorf("%w: endTime must be after startTime", model.ErrValidation))
		return
	}
	if !req.EndTime.After(time.Now()) {
		httpx.WriteError(w, fmt.Errorf("%w: endTime is in the past", model.ErrValidation))
		return
	}

	budget := req.VirtualBudget
	if budget.IsZero() {
		budget = defaultVirtualBudget
	}
	if budget.Sign() <= 0 {
		httpx.WriteError(w, fmt.Errorf("%w: virtualBudget must be positive", model.ErrValidation))
		return
	}

	c := &model.Contest{
		ID:              uuid.NewString(),
		Name:            req.Name,
		CreatorID:       identity.UserID,
		IsPrivate:       req.IsPrivate,
		VirtualBudget:   budget,
		MaxParticipants: req.MaxParticipants,
		StartTime:       req.StartTime.UTC(),
		EndTime:         req.EndTime.UTC(),
		Status:          model.StatusOpen,
		CreatedAt:       time.Now().UTC(),
	}
	if req.IsPrivate {
		c.InviteCode = newInviteCode()
	}

	if err := s.store.CreateContest(r.Context(), c); err != nil {
		httpx.WriteError(w, err)
		return
	}

	// The creator always occupies the first slot of their own contest.
	if _, err := s.admit(r.Context(), c, identity); err != nil {
		httpx.WriteError(w, err)
		return
	}
	c.CurrentParticipants = 1

	slog.Info("contest created",
		"contest_id", c.ID,
		"creator_id", c.CreatorID,
		"private", c.IsPrivate,
		"max_participants", c.MaxParticipants)

	view := *c
	view.Status = view.EffectiveStatus(time.Now())
	httpx.WriteJSON(w, http.StatusCreated, view)
}

type joinRequest struct {
	ContestID  string `json:"contestId"`
	InviteCode string `json:"inviteCode"`
}

// HandleJoin handles POST /api/v1/contests/join. Private contests require
// the matching invite code in the body.
func (s *Service) HandleJoin(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContestID == "" {
		httpx.WriteMessage(w, http.StatusBadRequest, "contestId is required")
		return
	}

	c, err := s.store.GetContest(r.Context(), req.ContestID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if c.IsPrivate && req.InviteCode != c.InviteCode {
		httpx.WriteError(w, model.ErrInvalidInviteCode)
		return
	}

	p, err := s.admit(r.Context(), c, identity)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

type joinByCodeRequest struct {
	InviteCode string `json:"inviteCode"`
}

// HandleJoinByCode handles POST /api/v1/contests/join-by-code. An unknown
// code reads as invalid, not as a missing contest, so codes cannot be probed.
func (s *Service) HandleJoinByCode(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req joinByCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InviteCode == "" {
		httpx.WriteMessage(w, http.StatusBadRequest, "inviteCode is required")
		return
	}

	c, err := s.store.GetContestByInviteCode(r.Context(), req.InviteCode)
	if err != nil {
		httpx.WriteError(w, model.ErrInvalidInviteCode)
		return
	}

	p, err := s.admit(r.Context(), c, identity)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

// admit adds the caller as a participant. Capacity and uniqueness are
// enforced atomically inside the store; this layer only gates on status.
func (s *Service) admit(ctx context.Context, c *model.Contest, identity auth.Identity) (*model.Participant, error) {
	now := time.Now()
	if c.EffectiveStatus(now) != model.StatusOpen {
		return nil, model.ErrContestNotJoinable
	}

	p := &model.Participant{
		ID:          uuid.NewString(),
		ContestID:   c.ID,
		UserID:      identity.UserID,
		Username:    identity.Username,
		CashBalance: c.VirtualBudget,
		JoinedAt:    now.UTC(),
	}
	if err := s.store.AddParticipant(ctx, p); err != nil {
		return nil, err
	}

	metrics.ContestsJoined.Inc()
	slog.Info("participant joined", "contest_id", c.ID, "user_id", identity.UserID)
	return p, nil
}

// HandleCancel handles POST /api/v1/contests/{id}/cancel. Creator only;
// terminal contests stay terminal.
func (s *Service) HandleCancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	c, err := s.store.GetContest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if c.CreatorID != identity.UserID {
		httpx.WriteError(w, model.ErrNotCreator)
		return
	}

	switch c.EffectiveStatus(time.Now()) {
	case model.StatusCompleted, model.StatusCancelled:
		httpx.WriteError(w, model.ErrContestNotJoinable)
		return
	}

	if err := s.store.UpdateContestStatus(r.Context(), c.ID, c.Status, model.StatusCancelled); err != nil {
		httpx.WriteError(w, err)
		return
	}

	slog.Info("contest cancelled", "contest_id", c.ID, "creator_id", identity.UserID)
	c.Status = model.StatusCancelled
	httpx.WriteJSON(w, http.StatusOK, c)
}

// HandleDetails handles GET /api/v1/contests/details/{id}. The invite code
// is only visible to the creator.
func (s *Service) HandleDetails(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	c, err := s.store.GetContest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	view := *c
	view.Status = view.EffectiveStatus(time.Now())
	if view.CreatorID != identity.UserID {
		view.InviteCode = ""
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

// HandleMyContests handles GET /api/v1/contests/my-contests.
func (s *Service) HandleMyContests(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	contests, err := s.store.ListContestsByUser(r.Context(), identity.UserID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	now := time.Now()
	out := make([]model.Contest, 0, len(contests))
	for _, c := range contests {
		c.Status = c.EffectiveStatus(now)
		if c.CreatorID != identity.UserID {
			c.InviteCode = ""
		}
		out = append(out, c)
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleOpenPublic handles GET /api/v1/contests/open-public-contests.
func (s *Service) HandleOpenPublic(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	contests, err := s.store.ListOpenPublicContests(r.Context(), now)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	out := make([]model.Contest, 0, len(contests))
	for _, c := range contests {
		// The store filters on stored status; re-check against the clock so
		// a contest whose window opened since the last sweep drops out.
		if c.EffectiveStatus(now) != model.StatusOpen {
			continue
		}
		if c.CurrentParticipants >= c.MaxParticipants {
			continue
		}
		c.Status = model.StatusOpen
		out = append(out, c)
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

const inviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newInviteCode returns a 6-character code from an alphabet without the
// lookalike characters 0/O and 1/I.
func newInviteCode() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	for i, b := range buf {
		buf[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(buf)
}
