// Package usage appends one row per billable task and computes its cost from
// per-1K token rates.
package usage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nightowlhq/aigate/internal/config"
	"github.com/nightowlhq/aigate/internal/store"
)

// Record is one usage event as persisted in usage_log.
type Record struct {
	TenantID     string
	Provider     string
	Model        string
	TaskType     string
	TokensInput  int
	TokensOutput int
	TokensTotal  int
	Cost         float64
	Metadata     string
	CreatedAt    time.Time
}

// Summary aggregates usage over a period, overall and per provider.
type Summary struct {
	Records      int
	TokensInput  int
	TokensOutput int
	TokensTotal  int
	Cost         float64
	ByProvider   map[string]ProviderTotals
}

type ProviderTotals struct {
	Records     int
	TokensTotal int
	Cost        float64
}

// Tracker writes and aggregates usage records over the shared database.
type Tracker struct {
	db  *store.DB
	cfg *config.Manager
	now func() time.Time
}

func NewTracker(db *store.DB, cfg *config.Manager) *Tracker {
	return &Tracker{db: db, cfg: cfg, now: time.Now}
}

// Cost prices tokens at the provider's per-1K rates, rounded to six decimal
// places. Unknown providers use the fallback rate.
func (t *Tracker) Cost(provider string, tokensIn, tokensOut int) float64 {
	rate := t.cfg.Current().Cost.Rate(provider)
	cost := float64(tokensIn)/1000*rate.InputPer1K + float64(tokensOut)/1000*rate.OutputPer1K
	return math.Round(cost*1e6) / 1e6
}

// Record persists one usage row. The cost is computed here so callers only
// pass raw token counts.
func (t *Tracker) Record(ctx context.Context, r Record) error {
	if strings.TrimSpace(r.Provider) == "" {
		return fmt.Errorf("record usage: provider is required")
	}
	if r.TokensTotal == 0 {
		r.TokensTotal = r.TokensInput + r.TokensOutput
	}
	if r.Cost == 0 {
		r.Cost = t.Cost(r.Provider, r.TokensInput, r.TokensOutput)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t.now()
	}

	_, err := t.db.SQL().ExecContext(ctx, `
		INSERT INTO usage_log (tenant_id, provider, model, task_type,
			tokens_input, tokens_output, tokens_total, cost, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TenantID, strings.ToLower(r.Provider), r.Model, r.TaskType,
		r.TokensInput, r.TokensOutput, r.TokensTotal, r.Cost, r.Metadata,
		store.FormatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Summarize totals all records created at or after since. A zero since
// aggregates everything.
func (t *Tracker) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	query := `SELECT provider, tokens_input, tokens_output, tokens_total, cost FROM usage_log`
	var args []any
	if !since.IsZero() {
		query += ` WHERE created_at >= ?`
		args = append(args, store.FormatTime(since))
	}

	rows, err := t.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	defer rows.Close()

	sum := &Summary{ByProvider: make(map[string]ProviderTotals)}
	for rows.Next() {
		var provider string
		var in, out, total int
		var cost float64
		if err := rows.Scan(&provider, &in, &out, &total, &cost); err != nil {
			return nil, fmt.Errorf("summarize usage: %w", err)
		}
		sum.Records++
		sum.TokensInput += in
		sum.TokensOutput += out
		sum.TokensTotal += total
		sum.Cost += cost

		pt := sum.ByProvider[provider]
		pt.Records++
		pt.TokensTotal += total
		pt.Cost += cost
		sum.ByProvider[provider] = pt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	sum.Cost = math.Round(sum.Cost*1e6) / 1e6
	return sum, nil
}
