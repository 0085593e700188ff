package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"litcritic/pkg/learning"
	"litcritic/pkg/review"
)

// sessionRow is the session table shape. List and map fields ride as JSON
// text; booleans as 0/1 integers.
type sessionRow struct {
	ID                 string
	ScenePath          string
	ScenePaths         string
	SceneHash          string
	Model              string
	DiscussionModel    string
	LensPreferences    string
	CurrentIndex       int
	Status             string
	GlossaryIssues     string
	DiscussionHistory  string
	LearningSession    string
	CreatedAt          time.Time
	CompletedAt        sql.NullTime
	TotalFindings      int
	AcceptedCount      int
	RejectedCount      int
	WithdrawnCount     int
	IndexContextHash   string
	IndexContextStale  int
	IndexRerunPrompted int
	IndexChangedFiles  string
}

type findingRow struct {
	SessionID       string
	Number          int
	Severity        string
	Lens            string
	Location        string
	LineStart       sql.NullInt64
	LineEnd         sql.NullInt64
	ScenePath       string
	Evidence        string
	Impact          string
	Options         string
	FlaggedBy       string
	AmbiguityType   string
	Stale           int
	Status          string
	AuthorResponse  string
	DiscussionTurns string
	RevisionHistory string
	OutcomeReason   string
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveSession writes the session row and every finding in one transaction.
// Rows are upserted, so the same call serves first save and checkpointing.
func (s *Store) SaveSession(ctx context.Context, sess *review.Session) error {
	row, err := sessionToRow(sess)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	findingRows := make([]*findingRow, 0, len(sess.Findings))
	for _, f := range sess.Findings {
		fr, err := findingToRow(sess.ID, f)
		if err != nil {
			return fmt.Errorf("failed to serialize finding %d: %w", f.Number, err)
		}
		findingRows = append(findingRows, fr)
	}

	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := s.upsertSessionRow(ctx, tx, row); err != nil {
			return err
		}
		for _, fr := range findingRows {
			if err := s.upsertFindingRow(ctx, tx, fr); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// SaveFinding upserts a single finding row, the per-mutation auto-save path.
func (s *Store) SaveFinding(ctx context.Context, sessionID string, f *review.Finding) error {
	fr, err := findingToRow(sessionID, f)
	if err != nil {
		return fmt.Errorf("failed to serialize finding %d: %w", f.Number, err)
	}
	return s.withRetry(ctx, func() error {
		return s.upsertFindingRow(ctx, s.db, fr)
	})
}

// Checkpoint is the auto-save chokepoint: it re-derives the session's
// counters and completion state, then persists the session row plus the
// changed findings. The returned flag is true when this save completed the
// session; the caller bumps the learning review count on that edge.
func (s *Store) Checkpoint(ctx context.Context, sess *review.Session, changed ...*review.Finding) (bool, error) {
	completed := review.RecomputeCompletion(sess)

	row, err := sessionToRow(sess)
	if err != nil {
		return false, fmt.Errorf("failed to serialize session: %w", err)
	}
	err = s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := s.upsertSessionRow(ctx, tx, row); err != nil {
			return err
		}
		for _, f := range changed {
			fr, err := findingToRow(sess.ID, f)
			if err != nil {
				return fmt.Errorf("failed to serialize finding %d: %w", f.Number, err)
			}
			if err := s.upsertFindingRow(ctx, tx, fr); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	return completed, err
}

// SaveSessionSignals writes the learning working lists onto the session row.
func (s *Store) SaveSessionSignals(ctx context.Context, sessionID string, signals learning.SessionSignals) error {
	data, err := json.Marshal(signals)
	if err != nil {
		return fmt.Errorf("failed to serialize session signals: %w", err)
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			s.q(`UPDATE session SET learning_session = ? WHERE id = ?`),
			string(data), sessionID)
		return err
	})
}

const sessionColumns = `id, scene_path, scene_paths, scene_hash, model, discussion_model,
lens_preferences, current_index, status, glossary_issues, discussion_history,
learning_session, created_at, completed_at, total_findings, accepted_count,
rejected_count, withdrawn_count, index_context_hash, index_context_stale,
index_rerun_prompted, index_changed_files`

// LoadSession reads a session and its findings, findings ordered by number.
func (s *Store) LoadSession(ctx context.Context, id string) (*review.Session, error) {
	var row sessionRow
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+sessionColumns+` FROM session WHERE id = ?`), id).Scan(
		&row.ID, &row.ScenePath, &row.ScenePaths, &row.SceneHash, &row.Model,
		&row.DiscussionModel, &row.LensPreferences, &row.CurrentIndex, &row.Status,
		&row.GlossaryIssues, &row.DiscussionHistory, &row.LearningSession,
		&row.CreatedAt, &row.CompletedAt, &row.TotalFindings, &row.AcceptedCount,
		&row.RejectedCount, &row.WithdrawnCount, &row.IndexContextHash,
		&row.IndexContextStale, &row.IndexRerunPrompted, &row.IndexChangedFiles,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	sess, err := rowToSession(&row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT session_id, number, severity, lens, location, line_start, line_end,
scene_path, evidence, impact, options, flagged_by, ambiguity_type, stale,
status, author_response, discussion_turns, revision_history, outcome_reason
FROM finding WHERE session_id = ? ORDER BY number ASC`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fr findingRow
		if err := rows.Scan(
			&fr.SessionID, &fr.Number, &fr.Severity, &fr.Lens, &fr.Location,
			&fr.LineStart, &fr.LineEnd, &fr.ScenePath, &fr.Evidence, &fr.Impact,
			&fr.Options, &fr.FlaggedBy, &fr.AmbiguityType, &fr.Stale, &fr.Status,
			&fr.AuthorResponse, &fr.DiscussionTurns, &fr.RevisionHistory,
			&fr.OutcomeReason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f, err := rowToFinding(&fr)
		if err != nil {
			return nil, err
		}
		sess.Findings = append(sess.Findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}
	return sess, nil
}

// LatestActiveSession loads the most recently created active session.
func (s *Store) LatestActiveSession(ctx context.Context) (*review.Session, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT id FROM session WHERE status = ? ORDER BY created_at DESC LIMIT 1`),
		review.SessionActive).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no active session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return s.LoadSession(ctx, id)
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID             string
	ScenePaths     []string
	Model          string
	Status         string
	CreatedAt      time.Time
	CompletedAt    *time.Time
	TotalFindings  int
	AcceptedCount  int
	RejectedCount  int
	WithdrawnCount int
}

// ListSessions returns summaries of every session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, scene_path, scene_paths, model, status, created_at, completed_at,
total_findings, accepted_count, rejected_count, withdrawn_count
FROM session ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum        SessionSummary
			scenePath  string
			scenePaths string
			completed  sql.NullTime
		)
		if err := rows.Scan(&sum.ID, &scenePath, &scenePaths, &sum.Model, &sum.Status,
			&sum.CreatedAt, &completed, &sum.TotalFindings, &sum.AcceptedCount,
			&sum.RejectedCount, &sum.WithdrawnCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sum.CreatedAt = sum.CreatedAt.UTC()
		if completed.Valid {
			t := completed.Time.UTC()
			sum.CompletedAt = &t
		}
		sum.ScenePaths = decodePaths(scenePaths, scenePath)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteSession removes a session; findings cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM session WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (s *Store) upsertSessionRow(ctx context.Context, ex execer, row *sessionRow) error {
	res, err := ex.ExecContext(ctx, s.q(`
UPDATE session SET scene_path = ?, scene_paths = ?, scene_hash = ?, model = ?,
discussion_model = ?, lens_preferences = ?, current_index = ?, status = ?,
glossary_issues = ?, discussion_history = ?, learning_session = ?,
created_at = ?, completed_at = ?, total_findings = ?, accepted_count = ?,
rejected_count = ?, withdrawn_count = ?, index_context_hash = ?,
index_context_stale = ?, index_rerun_prompted = ?, index_changed_files = ?
WHERE id = ?`),
		row.ScenePath, row.ScenePaths, row.SceneHash, row.Model,
		row.DiscussionModel, row.LensPreferences, row.CurrentIndex, row.Status,
		row.GlossaryIssues, row.DiscussionHistory, row.LearningSession,
		row.CreatedAt, row.CompletedAt, row.TotalFindings, row.AcceptedCount,
		row.RejectedCount, row.WithdrawnCount, row.IndexContextHash,
		row.IndexContextStale, row.IndexRerunPrompted, row.IndexChangedFiles,
		row.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = ex.ExecContext(ctx, s.q(`
INSERT INTO session (`+sessionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		row.ID, row.ScenePath, row.ScenePaths, row.SceneHash, row.Model,
		row.DiscussionModel, row.LensPreferences, row.CurrentIndex, row.Status,
		row.GlossaryIssues, row.DiscussionHistory, row.LearningSession,
		row.CreatedAt, row.CompletedAt, row.TotalFindings, row.AcceptedCount,
		row.RejectedCount, row.WithdrawnCount, row.IndexContextHash,
		row.IndexContextStale, row.IndexRerunPrompted, row.IndexChangedFiles)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *Store) upsertFindingRow(ctx context.Context, ex execer, fr *findingRow) error {
	res, err := ex.ExecContext(ctx, s.q(`
UPDATE finding SET severity = ?, lens = ?, location = ?, line_start = ?,
line_end = ?, scene_path = ?, evidence = ?, impact = ?, options = ?,
flagged_by = ?, ambiguity_type = ?, stale = ?, status = ?,
author_response = ?, discussion_turns = ?, revision_history = ?,
outcome_reason = ?
WHERE session_id = ? AND number = ?`),
		fr.Severity, fr.Lens, fr.Location, fr.LineStart, fr.LineEnd,
		fr.ScenePath, fr.Evidence, fr.Impact, fr.Options, fr.FlaggedBy,
		fr.AmbiguityType, fr.Stale, fr.Status, fr.AuthorResponse,
		fr.DiscussionTurns, fr.RevisionHistory, fr.OutcomeReason,
		fr.SessionID, fr.Number)
	if err != nil {
		return fmt.Errorf("failed to update finding: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = ex.ExecContext(ctx, s.q(`
INSERT INTO finding (session_id, number, severity, lens, location, line_start,
line_end, scene_path, evidence, impact, options, flagged_by, ambiguity_type,
stale, status, author_response, discussion_turns, revision_history,
outcome_reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		fr.SessionID, fr.Number, fr.Severity, fr.Lens, fr.Location,
		fr.LineStart, fr.LineEnd, fr.ScenePath, fr.Evidence, fr.Impact,
		fr.Options, fr.FlaggedBy, fr.AmbiguityType, fr.Stale, fr.Status,
		fr.AuthorResponse, fr.DiscussionTurns, fr.RevisionHistory,
		fr.OutcomeReason)
	if err != nil {
		return fmt.Errorf("failed to insert finding: %w", err)
	}
	return nil
}

func sessionToRow(sess *review.Session) (*sessionRow, error) {
	scenePaths, err := json.Marshal(sess.ScenePaths)
	if err != nil {
		return nil, err
	}
	glossary, err := json.Marshal(emptyIfNil(sess.GlossaryIssues))
	if err != nil {
		return nil, err
	}
	history, err := json.Marshal(sess.DiscussionHistory)
	if err != nil {
		return nil, err
	}
	signals, err := json.Marshal(sess.LearningSignals)
	if err != nil {
		return nil, err
	}
	changed, err := json.Marshal(emptyIfNil(sess.IndexChangedFiles))
	if err != nil {
		return nil, err
	}

	prefs := ""
	if sess.Preferences != nil {
		data, err := json.Marshal(sess.Preferences)
		if err != nil {
			return nil, err
		}
		prefs = string(data)
	}

	row := &sessionRow{
		ID:                 sess.ID,
		ScenePaths:         string(scenePaths),
		SceneHash:          sess.SceneHash,
		Model:              sess.Model,
		DiscussionModel:    sess.DiscussionModel,
		LensPreferences:    prefs,
		CurrentIndex:       sess.CurrentIndex,
		Status:             sess.Status,
		GlossaryIssues:     string(glossary),
		DiscussionHistory:  string(history),
		LearningSession:    string(signals),
		CreatedAt:          sess.CreatedAt,
		TotalFindings:      sess.TotalFindings,
		AcceptedCount:      sess.AcceptedCount,
		RejectedCount:      sess.RejectedCount,
		WithdrawnCount:     sess.WithdrawnCount,
		IndexContextHash:   sess.IndexContextHash,
		IndexContextStale:  boolToInt(sess.IndexContextStale),
		IndexRerunPrompted: boolToInt(sess.IndexRerunPrompted),
		IndexChangedFiles:  string(changed),
	}
	if len(sess.ScenePaths) > 0 {
		row.ScenePath = sess.ScenePaths[0]
	}
	if sess.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *sess.CompletedAt, Valid: true}
	}
	return row, nil
}

func rowToSession(row *sessionRow) (*review.Session, error) {
	sess := &review.Session{
		ID:                 row.ID,
		SceneHash:          row.SceneHash,
		Model:              row.Model,
		DiscussionModel:    row.DiscussionModel,
		CurrentIndex:       row.CurrentIndex,
		Status:             row.Status,
		CreatedAt:          row.CreatedAt.UTC(),
		TotalFindings:      row.TotalFindings,
		AcceptedCount:      row.AcceptedCount,
		RejectedCount:      row.RejectedCount,
		WithdrawnCount:     row.WithdrawnCount,
		IndexContextHash:   row.IndexContextHash,
		IndexContextStale:  row.IndexContextStale != 0,
		IndexRerunPrompted: row.IndexRerunPrompted != 0,
	}

	sess.ScenePaths = decodePaths(row.ScenePaths, row.ScenePath)
	if err := unmarshalText(row.GlossaryIssues, &sess.GlossaryIssues); err != nil {
		return nil, fmt.Errorf("failed to decode glossary_issues: %w", err)
	}
	if err := unmarshalText(row.DiscussionHistory, &sess.DiscussionHistory); err != nil {
		return nil, fmt.Errorf("failed to decode discussion_history: %w", err)
	}
	if err := unmarshalText(row.LearningSession, &sess.LearningSignals); err != nil {
		return nil, fmt.Errorf("failed to decode learning_session: %w", err)
	}
	if err := unmarshalText(row.IndexChangedFiles, &sess.IndexChangedFiles); err != nil {
		return nil, fmt.Errorf("failed to decode index_changed_files: %w", err)
	}
	if row.LensPreferences != "" {
		sess.Preferences = &review.LensPreferences{}
		if err := json.Unmarshal([]byte(row.LensPreferences), sess.Preferences); err != nil {
			return nil, fmt.Errorf("failed to decode lens_preferences: %w", err)
		}
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time.UTC()
		sess.CompletedAt = &t
	}
	return sess, nil
}

func findingToRow(sessionID string, f *review.Finding) (*findingRow, error) {
	options, err := json.Marshal(emptyIfNil(f.Options))
	if err != nil {
		return nil, err
	}
	flaggedBy, err := json.Marshal(emptyIfNil(f.FlaggedBy))
	if err != nil {
		return nil, err
	}
	turns, err := json.Marshal(f.DiscussionTurns)
	if err != nil {
		return nil, err
	}
	revisions, err := json.Marshal(f.RevisionHistory)
	if err != nil {
		return nil, err
	}

	fr := &findingRow{
		SessionID:       sessionID,
		Number:          f.Number,
		Severity:        f.Severity,
		Lens:            f.Lens,
		Location:        f.Location,
		ScenePath:       f.ScenePath,
		Evidence:        f.Evidence,
		Impact:          f.Impact,
		Options:         string(options),
		FlaggedBy:       string(flaggedBy),
		AmbiguityType:   f.AmbiguityType,
		Stale:           boolToInt(f.Stale),
		Status:          f.Status,
		AuthorResponse:  f.AuthorResponse,
		DiscussionTurns: string(turns),
		RevisionHistory: string(revisions),
		OutcomeReason:   f.OutcomeReason,
	}
	if f.LineStart != nil {
		fr.LineStart = sql.NullInt64{Int64: int64(*f.LineStart), Valid: true}
	}
	if f.LineEnd != nil {
		fr.LineEnd = sql.NullInt64{Int64: int64(*f.LineEnd), Valid: true}
	}
	return fr, nil
}

func rowToFinding(fr *findingRow) (*review.Finding, error) {
	f := &review.Finding{
		Number:         fr.Number,
		Severity:       fr.Severity,
		Lens:           fr.Lens,
		Location:       fr.Location,
		ScenePath:      fr.ScenePath,
		Evidence:       fr.Evidence,
		Impact:         fr.Impact,
		AmbiguityType:  fr.AmbiguityType,
		Stale:          fr.Stale != 0,
		Status:         fr.Status,
		AuthorResponse: fr.AuthorResponse,
		OutcomeReason:  fr.OutcomeReason,
	}
	if err := unmarshalText(fr.Options, &f.Options); err != nil {
		return nil, fmt.Errorf("failed to decode finding options: %w", err)
	}
	if err := unmarshalText(fr.FlaggedBy, &f.FlaggedBy); err != nil {
		return nil, fmt.Errorf("failed to decode finding flagged_by: %w", err)
	}
	if err := unmarshalText(fr.DiscussionTurns, &f.DiscussionTurns); err != nil {
		return nil, fmt.Errorf("failed to decode finding discussion_turns: %w", err)
	}
	if err := unmarshalText(fr.RevisionHistory, &f.RevisionHistory); err != nil {
		return nil, fmt.Errorf("failed to decode finding revision_history: %w", err)
	}
	if fr.LineStart.Valid {
		v := int(fr.LineStart.Int64)
		f.LineStart = &v
	}
	if fr.LineEnd.Valid {
		v := int(fr.LineEnd.Int64)
		f.LineEnd = &v
	}
	return f, nil
}

// decodePaths reads the scene_paths JSON list, falling back to the legacy
// single scene_path column for rows written before multi-scene support.
func decodePaths(scenePaths, scenePath string) []string {
	var paths []string
	if scenePaths != "" {
		_ = json.Unmarshal([]byte(scenePaths), &paths)
	}
	if len(paths) == 0 && scenePath != "" {
		paths = []string{scenePath}
	}
	return paths
}

func unmarshalText(data string, v any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
