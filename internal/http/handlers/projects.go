package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crowdfund/internal/domain"
	"crowdfund/internal/payment"
)

type projectView struct {
	ID            string                     `json:"id"`
	Title         string                     `json:"title"`
	Author        string                     `json:"author"`
	ORCID         string                     `json:"orcid,omitempty"`
	Description   string                     `json:"description"`
	MediaURL      string                     `json:"media_url,omitempty"`
	HPCProvider   string                     `json:"hpc_provider,omitempty"`
	GPUHours      decimal.Decimal            `json:"gpu_hours"`
	GoalAmount    decimal.Decimal            `json:"goal_amount"`
	Currency      string                     `json:"currency"`
	RaisedAmount  decimal.Decimal            `json:"raised_amount"`
	Totals        map[string]decimal.Decimal `json:"totals"`
	WalletAddress string                     `json:"wallet_address,omitempty"`
	CreatorID     string                     `json:"creator_id"`
	CreatedAt     time.Time                  `json:"created_at"`
}

func toProjectView(p domain.Project) projectView {
	totals := p.Totals
	if totals == nil {
		totals = map[string]decimal.Decimal{}
	}
	return projectView{
		ID:            p.ID,
		Title:         p.Title,
		Author:        p.Author,
		ORCID:         p.ORCID,
		Description:   p.Description,
		MediaURL:      p.MediaURL,
		HPCProvider:   p.HPCProvider,
		GPUHours:      p.GPUHours,
		GoalAmount:    p.GoalAmount,
		Currency:      p.Currency,
		RaisedAmount:  p.RaisedAmount(),
		Totals:        totals,
		WalletAddress: p.WalletAddress,
		CreatorID:     p.CreatorID,
		CreatedAt:     p.CreatedAt,
	}
}

func (a *App) ProjectsList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	var (
		items []domain.Project
		err   error
	)
	if creator := strings.TrimSpace(r.URL.Query().Get("creator")); creator != "" {
		items, err = a.Projects.ListByCreator(r.Context(), creator)
	} else {
		items, err = a.Projects.List(r.Context(), limit)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]projectView, 0, len(items))
	for _, p := range items {
		out = append(out, toProjectView(p))
	}
	a.json(w, http.StatusOK, map[string]any{"items": out})
}

func (a *App) ProjectsGet(w http.ResponseWriter, r *http.Request) {
	p, err := a.Projects.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toProjectView(*p))
}

type projectRequest struct {
	Title         string          `json:"title"`
	Author        string          `json:"author"`
	ORCID         string          `json:"orcid"`
	Description   string          `json:"description"`
	MediaURL      string          `json:"media_url"`
	HPCProvider   string          `json:"hpc_provider"`
	GPUHours      decimal.Decimal `json:"gpu_hours"`
	GoalAmount    decimal.Decimal `json:"goal_amount"`
	Currency      string          `json:"currency"`
	WalletAddress string          `json:"wallet_address"`
}

func (a *App) ProjectsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	var req projectRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > 200 {
		a.error(w, http.StatusBadRequest, "bad_request", "title is required")
		return
	}
	if !req.GoalAmount.IsPositive() {
		a.error(w, http.StatusBadRequest, "bad_request", "goal_amount must be positive")
		return
	}
	if req.GPUHours.IsNegative() {
		a.error(w, http.StatusBadRequest, "bad_request", "gpu_hours must not be negative")
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}
	currency, err := payment.NormalizeCurrency(req.Currency)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	p := &domain.Project{
		ID:            uuid.NewString(),
		Title:         title,
		Author:        strings.TrimSpace(req.Author),
		ORCID:         strings.TrimSpace(req.ORCID),
		Description:   strings.TrimSpace(req.Description),
		MediaURL:      strings.TrimSpace(req.MediaURL),
		HPCProvider:   strings.TrimSpace(req.HPCProvider),
		GPUHours:      req.GPUHours,
		GoalAmount:    req.GoalAmount,
		Currency:      currency,
		WalletAddress: strings.TrimSpace(req.WalletAddress),
		CreatorID:     userID,
		CreatedAt:     a.now().UTC(),
		Totals:        map[string]decimal.Decimal{},
	}
	if err := a.Projects.Create(r.Context(), p); err != nil {
		a.fail(w, r, err)
		return
	}
	a.log(r).Info().Str("project", p.ID).Str("creator", userID).Msg("handlers: project created")
	a.json(w, http.StatusCreated, toProjectView(*p))
}

type projectUpdateView struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *App) ProjectUpdatesList(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	if _, err := a.Projects.Get(r.Context(), projectID); err != nil {
		a.fail(w, r, err)
		return
	}
	updates, err := a.Projects.ListUpdates(r.Context(), projectID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]projectUpdateView, 0, len(updates))
	for _, u := range updates {
		out = append(out, projectUpdateView(u))
	}
	a.json(w, http.StatusOK, map[string]any{"items": out})
}

// ProjectUpdatesCreate posts a progress note. Only the project creator may post.
func (a *App) ProjectUpdatesCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	p, err := a.Projects.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if p.CreatorID != userID {
		a.fail(w, r, domain.ErrForbidden)
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := a.decode(w, r, &req); err != nil || strings.TrimSpace(req.Body) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "body is required")
		return
	}
	u := &domain.ProjectUpdate{
		ID:        uuid.NewString(),
		ProjectID: p.ID,
		Body:      strings.TrimSpace(req.Body),
		CreatedAt: a.now().UTC(),
	}
	if err := a.Projects.AddUpdate(r.Context(), u); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, projectUpdateView(*u))
}
