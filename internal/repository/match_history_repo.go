package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"advanced_rps/internal/domain"
)

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type MatchHistoryRepository struct {
	db DB
}

func NewMatchHistoryRepository(db DB) *MatchHistoryRepository {
	return &MatchHistoryRepository{db: db}
}

const matchColumns = `id, session_id, round, variant, role, peer_id, opponent_id,
	local_weapon, opponent_weapon, outcome, result, stake_wei::text,
	escrow_address, details, created_at`

// Create stores one finished round. Archiving the same round twice keeps
// the first row unless it was provisionally settled.
func (r *MatchHistoryRepository) Create(ctx context.Context, m *domain.MatchHistory) error {
	detailsJSON, err := json.Marshal(m.Details)
	if err != nil || m.Details == nil {
		detailsJSON = []byte("{}")
	}
	stake := m.StakeWei
	if stake == "" {
		stake = "0"
	}

	err = r.db.QueryRow(ctx,
		`INSERT INTO match_history
			(session_id, round, variant, role, peer_id, opponent_id, local_weapon,
			 opponent_weapon, outcome, result, stake_wei, escrow_address, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::text::numeric, $12, $13)
		 ON CONFLICT (session_id, round) DO UPDATE SET
			opponent_weapon = EXCLUDED.opponent_weapon,
			outcome         = EXCLUDED.outcome,
			result          = EXCLUDED.result,
			details         = EXCLUDED.details
		 WHERE match_history.result = 'settled'
		 RETURNING id, created_at`,
		m.SessionID,
		m.Round,
		m.Variant,
		m.Role,
		m.PeerID,
		m.OpponentID,
		m.LocalWeapon,
		m.OpponentWeapon,
		m.Outcome,
		m.Result,
		stake,
		m.EscrowAddress,
		detailsJSON,
	).Scan(&m.ID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict with a final row; it stays.
		return nil
	}
	return err
}

// ListBySession returns the rounds of one session, oldest first.
func (r *MatchHistoryRepository) ListBySession(ctx context.Context, sessionID string) ([]*domain.MatchHistory, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+matchColumns+`
		 FROM match_history
		 WHERE session_id = $1
		 ORDER BY round`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMatches(rows)
}

// ListByPeer returns the most recent rounds played under a peer id.
func (r *MatchHistoryRepository) ListByPeer(ctx context.Context, peerID string, limit int) ([]*domain.MatchHistory, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+matchColumns+`
		 FROM match_history
		 WHERE peer_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		peerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMatches(rows)
}

// PeerStats sums up a peer's results.
type PeerStats struct {
	PeerID     string `json:"peer_id"`
	TotalGames int    `json:"total_games"`
	Wins       int    `json:"wins"`
	Losses     int    `json:"losses"`
	Draws      int    `json:"draws"`
	Settled    int    `json:"settled"`
}

// GetPeerStats counts a peer's results since the given time.
func (r *MatchHistoryRepository) GetPeerStats(ctx context.Context, peerID string, since time.Time) (*PeerStats, error) {
	stats := &PeerStats{PeerID: peerID}

	err := r.db.QueryRow(ctx,
		`SELECT
			COUNT(*) as total_games,
			COUNT(*) FILTER (WHERE result = 'win') as wins,
			COUNT(*) FILTER (WHERE result = 'lose') as losses,
			COUNT(*) FILTER (WHERE result = 'draw') as draws,
			COUNT(*) FILTER (WHERE result IN ('refunded', 'claimed', 'forfeited', 'settled')) as settled
		 FROM match_history
		 WHERE peer_id = $1 AND created_at >= $2`,
		peerID, since,
	).Scan(&stats.TotalGames, &stats.Wins, &stats.Losses, &stats.Draws, &stats.Settled)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func scanMatches(rows pgx.Rows) ([]*domain.MatchHistory, error) {
	var result []*domain.MatchHistory

	for rows.Next() {
		var (
			m           domain.MatchHistory
			detailsJSON []byte
		)

		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.Round, &m.Variant, &m.Role, &m.PeerID, &m.OpponentID,
			&m.LocalWeapon, &m.OpponentWeapon, &m.Outcome, &m.Result, &m.StakeWei,
			&m.EscrowAddress, &detailsJSON, &m.CreatedAt,
		); err != nil {
			return nil, err
		}

		if len(detailsJSON) > 0 {
			_ = json.Unmarshal(detailsJSON, &m.Details)
		}

		result = append(result, &m)
	}

	return result, rows.Err()
}
