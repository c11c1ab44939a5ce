package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"agent-arena/internal/arena"
	"agent-arena/internal/game"
	"agent-arena/internal/storage"
	"agent-arena/internal/strategy"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// joinRequest is the body of POST /api/arenas/{id}/join. Exactly one of
// Strategy or Webhook selects how the agent decides. External and
// Modifiers require an admin.
type joinRequest struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"ownerId"`
	Wallet    string         `json:"wallet"`
	External  bool           `json:"external"`
	Modifiers game.Modifiers `json:"modifiers"`
	Strategy  string         `json:"strategy"`
	Seed      int64          `json:"seed"`
	Webhook   *struct {
		URL   string `json:"url"`
		Token string `json:"token"`
	} `json:"webhook"`
}

func (h *routerHandlers) handleListArenas(w http.ResponseWriter, r *http.Request) {
	arenas := h.service.Arenas()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]arena.Info, 0, len(arenas))
		for _, a := range arenas {
			if string(a.Status) == status {
				filtered = append(filtered, a)
			}
		}
		arenas = filtered
	}
	writeJSON(w, arenas)
}

func (h *routerHandlers) handleGetArena(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Arena(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, info)
}

func (h *routerHandlers) handleJoinArena(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.OwnerID == "" {
		writeError(w, "id and ownerId are required", http.StatusBadRequest)
		return
	}
	if (req.External || !req.Modifiers.IsZero()) && !h.sessions.IsAdmin(r) {
		writeError(w, "external agents and modifiers require admin", http.StatusForbidden)
		return
	}

	strat, err := h.buildStrategy(req)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	info, err := h.service.Join(chi.URLParam(r, "id"), game.AgentDescriptor{
		ID:        req.ID,
		OwnerID:   req.OwnerID,
		Wallet:    req.Wallet,
		External:  req.External,
		Modifiers: req.Modifiers,
		Strategy:  strat,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, info)
}

func (h *routerHandlers) buildStrategy(req joinRequest) (game.Strategy, error) {
	switch {
	case req.Webhook != nil && req.Strategy != "":
		return nil, errors.New("set either strategy or webhook, not both")
	case req.Webhook != nil:
		if req.Webhook.URL == "" {
			return nil, errors.New("webhook url is required")
		}
		if err := strategy.CheckWebhookURL(req.Webhook.URL, h.allowPrivate); err != nil {
			return nil, err
		}
		opts := []strategy.RemoteOption{strategy.WithToken(req.Webhook.Token)}
		if !h.allowPrivate {
			opts = append(opts, strategy.PublicOnly())
		}
		return strategy.NewRemote(req.Webhook.URL, opts...), nil
	case req.Strategy != "":
		if h.strategies == nil {
			return nil, errors.New("built-in strategies are not available")
		}
		return h.strategies.New(req.Strategy, req.Seed)
	default:
		return nil, errors.New("strategy or webhook is required")
	}
}

func (h *routerHandlers) handleLeaveArena(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"id"`
		OwnerID string `json:"ownerId"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.OwnerID == "" {
		writeError(w, "id and ownerId are required", http.StatusBadRequest)
		return
	}

	info, err := h.service.Leave(chi.URLParam(r, "id"), req.ID, req.OwnerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, info)
}

func (h *routerHandlers) handleGetTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.service.Tiers())
}

func (h *routerHandlers) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Match(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, snap)
}

// handleGetTurns returns the turn log. ?since=N skips turns up to and
// including N so pollers can fetch only new records.
func (h *routerHandlers) handleGetTurns(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Match(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = n
	}

	turns := make([]game.TurnRecord, 0, len(snap.History))
	for _, rec := range snap.History {
		if rec.Turn > since {
			turns = append(turns, rec)
		}
	}
	writeJSON(w, map[string]any{
		"matchId": snap.MatchID,
		"status":  snap.Status,
		"turns":   turns,
	})
}

func (h *routerHandlers) handleListResults(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	list, err := h.results.ListResults(r.Context(), r.URL.Query().Get("tier"), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []storage.ResultSummary{}
	}
	writeJSON(w, list)
}

func (h *routerHandlers) handleGetResult(w http.ResponseWriter, r *http.Request) {
	res, tier, err := h.results.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"tier":   tier,
		"result": res,
	})
}

func (h *routerHandlers) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if h.strategies != nil {
		names = h.strategies.Names()
	}
	writeJSON(w, names)
}

// statsResponse flattens the lifecycle counters next to the limiter's.
type statsResponse struct {
	arena.Stats
	RateLimit RateLimitStats `json:"rateLimit"`
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statsResponse{Stats: h.service.Stats(), RateLimit: h.rateLimiter.Stats()})
}

// writeServiceError maps lifecycle and storage errors to status codes.
func (h *routerHandlers) writeServiceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, err.Error(), code)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, arena.ErrArenaNotFound),
		errors.Is(err, arena.ErrMatchNotFound),
		errors.Is(err, arena.ErrNotInLobby),
		errors.Is(err, storage.ErrResultNotFound):
		return http.StatusNotFound
	case errors.Is(err, arena.ErrNotAccepting),
		errors.Is(err, arena.ErrArenaFull),
		errors.Is(err, arena.ErrAlreadyJoined),
		errors.Is(err, arena.ErrShuttingDown):
		return http.StatusConflict
	case errors.Is(err, game.ErrInvalidAgent),
		errors.Is(err, game.ErrDuplicateAgent),
		errors.Is(err, strategy.ErrUnknownStrategy):
		return http.StatusBadRequest
	case errors.Is(err, arena.ErrNotOwner):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
