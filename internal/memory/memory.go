// Package memory persists semantic memory entries per tenant and retrieves
// them by vector similarity with an importance/recency fallback.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nightowlhq/aigate/internal/store"
)

// Entry is one memory record. Details holds free-form JSON.
type Entry struct {
	ID             string
	TenantID       string
	UserID         string
	ChannelID      string
	MessageID      string
	Type           string
	Label          string
	Summary        string
	Details        string
	Importance     int
	EmbeddingModel string
	ExpiresAt      time.Time
	UpdatedAt      time.Time
}

// Query filters getRelevantMemories. Limit <= 0 means DefaultLimit.
type Query struct {
	UserID              string
	Limit               int
	IncludeGlobal       bool
	MinImportance       int
	Query               string
	SimilarityThreshold float64
}

const DefaultLimit = 10

// Store is the memory subsystem over the shared database.
type Store struct {
	db       *store.DB
	embedder Embedder
	now      func() time.Time
}

func NewStore(db *store.DB, embedder Embedder) *Store {
	return &Store{db: db, embedder: embedder, now: time.Now}
}

// Add inserts the entry. Embedding is best-effort: a failure to compute a
// vector is logged and the row is written without one.
func (s *Store) Add(ctx context.Context, e Entry) (string, error) {
	if strings.TrimSpace(e.TenantID) == "" {
		return "", fmt.Errorf("add memory: tenant id is required")
	}
	if strings.TrimSpace(e.Summary) == "" {
		return "", fmt.Errorf("add memory: summary is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Type == "" {
		e.Type = "fact"
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now()
	}

	var blob []byte
	var embeddedAt string
	e.EmbeddingModel = ""
	if s.embedder != nil && s.embedder.Available() {
		vec, err := s.embedder.Embed(ctx, e.Summary)
		if err != nil {
			log.Printf("[memory] embedding failed for %s: %v", e.ID, err)
		} else if encoded, err := encodeVector(vec); err != nil {
			log.Printf("[memory] encode embedding for %s: %v", e.ID, err)
		} else {
			blob = encoded
			e.EmbeddingModel = s.embedder.Model()
			embeddedAt = store.FormatTime(s.now())
		}
	}

	_, err := s.db.SQL().ExecContext(ctx, `
		INSERT INTO memories (id, tenant_id, user_id, channel_id, message_id, type, label,
			summary, details, importance, embedding, embedding_model, embedding_updated_at,
			expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.UserID, e.ChannelID, e.MessageID, e.Type, e.Label,
		e.Summary, e.Details, e.Importance, blob, e.EmbeddingModel, embeddedAt,
		store.FormatTime(e.ExpiresAt), store.FormatTime(e.UpdatedAt))
	if err != nil {
		return "", fmt.Errorf("add memory: %w", err)
	}
	return e.ID, nil
}

// Relevant retrieves up to q.Limit entries for the tenant. When q.Query is
// set and an embedding is obtainable, a similarity search runs first; any
// zero-result vector search falls back to the scalar ranking. Expired
// entries are dropped last, after either path.
func (s *Store) Relevant(ctx context.Context, tenantID string, q Query) ([]Entry, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("relevant memories: tenant id is required")
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	if strings.TrimSpace(q.Query) != "" && s.embedder != nil && s.embedder.Available() {
		vec, err := s.embedder.Embed(ctx, q.Query)
		if err != nil {
			log.Printf("[memory] query embedding failed, using scalar ranking: %v", err)
		} else {
			entries, err := s.vectorSearch(ctx, tenantID, q, vec)
			if err != nil {
				return nil, err
			}
			if len(entries) > 0 {
				return s.dropExpired(entries), nil
			}
		}
	}

	entries, err := s.scalarSearch(ctx, tenantID, q)
	if err != nil {
		return nil, err
	}
	return s.dropExpired(entries), nil
}

func (s *Store) vectorSearch(ctx context.Context, tenantID string, q Query, queryVec []float32) ([]Entry, error) {
	where, args := scopeClause(tenantID, q.UserID, q.IncludeGlobal)
	rows, err := s.db.SQL().QueryContext(ctx, `
		SELECT `+entryColumns+`, embedding FROM memories
		WHERE `+where+` AND embedding IS NOT NULL`, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	type scored struct {
		entry Entry
		score float64
	}
	var matches []scored
	for rows.Next() {
		var e Entry
		var blob []byte
		if err := scanEntry(rows, &e, &blob); err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			log.Printf("[memory] skipping undecodable embedding for %s: %v", e.ID, err)
			continue
		}
		score, err := cosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		if score >= q.SimilarityThreshold {
			matches = append(matches, scored{entry: e, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	entries := make([]Entry, len(matches))
	for i, m := range matches {
		entries[i] = m.entry
	}
	return entries, nil
}

func (s *Store) scalarSearch(ctx context.Context, tenantID string, q Query) ([]Entry, error) {
	where, args := scopeClause(tenantID, q.UserID, q.IncludeGlobal)
	args = append(args, q.MinImportance, q.Limit)
	rows, err := s.db.SQL().QueryContext(ctx, `
		SELECT `+entryColumns+`, NULL FROM memories
		WHERE `+where+` AND importance >= ?
		ORDER BY importance DESC, updated_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("scalar search: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var blob []byte
		if err := scanEntry(rows, &e, &blob); err != nil {
			return nil, fmt.Errorf("scalar search: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scopeClause builds the tenant/user scoping for retrieval. Global entries
// are rows with an empty user id.
func scopeClause(tenantID, userID string, includeGlobal bool) (string, []any) {
	switch {
	case userID != "" && includeGlobal:
		return "tenant_id = ? AND (user_id = ? OR user_id = '')", []any{tenantID, userID}
	case userID != "":
		return "tenant_id = ? AND user_id = ?", []any{tenantID, userID}
	case includeGlobal:
		return "tenant_id = ? AND user_id = ''", []any{tenantID}
	default:
		return "tenant_id = ?", []any{tenantID}
	}
}

func (s *Store) dropExpired(entries []Entry) []Entry {
	now := s.now()
	kept := entries[:0]
	for _, e := range entries {
		if !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// Prune deletes entries older than retentionDays, then trims the tenant to
// maxEntries keeping the best by importance then recency. Age-based deletion
// runs first, so an old entry is gone even when the cap alone would keep it.
func (s *Store) Prune(ctx context.Context, tenantID string, retentionDays, maxEntries int) (int64, error) {
	if strings.TrimSpace(tenantID) == "" {
		return 0, fmt.Errorf("prune memories: tenant id is required")
	}

	var deleted int64
	if retentionDays > 0 {
		cutoff := store.FormatTime(s.now().AddDate(0, 0, -retentionDays))
		res, err := s.db.SQL().ExecContext(ctx,
			`DELETE FROM memories WHERE tenant_id = ? AND updated_at < ?`, tenantID, cutoff)
		if err != nil {
			return deleted, fmt.Errorf("prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if maxEntries > 0 {
		res, err := s.db.SQL().ExecContext(ctx, `
			DELETE FROM memories WHERE tenant_id = ? AND id IN (
				SELECT id FROM memories WHERE tenant_id = ?
				ORDER BY importance DESC, updated_at DESC
				LIMIT -1 OFFSET ?
			)`, tenantID, tenantID, maxEntries)
		if err != nil {
			return deleted, fmt.Errorf("prune by cap: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}

// Delete removes one entry, scoped to the tenant.
func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	res, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM memories WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete memory: %s not found", id)
	}
	return nil
}

// List pages through a tenant's entries, newest first, optionally filtered
// by type.
func (s *Store) List(ctx context.Context, tenantID, typ string, limit, offset int) ([]Entry, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("list memories: tenant id is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	where := "tenant_id = ?"
	args := []any{tenantID}
	if typ != "" {
		where += " AND type = ?"
		args = append(args, typ)
	}
	args = append(args, limit, offset)

	rows, err := s.db.SQL().QueryContext(ctx, `
		SELECT `+entryColumns+`, NULL FROM memories
		WHERE `+where+`
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var blob []byte
		if err := scanEntry(rows, &e, &blob); err != nil {
			return nil, fmt.Errorf("list memories: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const entryColumns = `id, tenant_id, user_id, channel_id, message_id, type, label,
	summary, details, importance, embedding_model, expires_at, updated_at`

func scanEntry(rows *sql.Rows, e *Entry, blob *[]byte) error {
	var expiresAt, updatedAt string
	if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.ChannelID, &e.MessageID,
		&e.Type, &e.Label, &e.Summary, &e.Details, &e.Importance,
		&e.EmbeddingModel, &expiresAt, &updatedAt, blob); err != nil {
		return err
	}
	e.ExpiresAt = store.ParseTime(expiresAt)
	e.UpdatedAt = store.ParseTime(updatedAt)
	return nil
}

