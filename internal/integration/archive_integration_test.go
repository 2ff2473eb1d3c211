package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advanced_rps/internal/channel"
	"advanced_rps/internal/db"
	"advanced_rps/internal/domain"
	"advanced_rps/internal/game"
	"advanced_rps/internal/repository"
	"advanced_rps/internal/session"
)

func TestArchiveResolvedRounds(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := db.Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	_, err = repository.Migrate(ctx, pool)
	require.NoError(t, err)
	applied, err := repository.Migrate(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, applied, "migrations are recorded once applied")

	repo := repository.NewMatchHistoryRepository(pool)
	hostID, guestID := channel.NewPeerID(), channel.NewPeerID()
	a, b := channel.NewPipe(hostID, guestID)

	alice, err := session.New(session.Config{Role: game.Initiator, Variant: game.Casual, PeerID: hostID, Channel: a, Archive: repo})
	require.NoError(t, err)
	bob, err := session.New(session.Config{Role: game.Responder, Variant: game.Casual, PeerID: guestID, Channel: b, Archive: repo})
	require.NoError(t, err)
	run(t, alice)
	run(t, bob)

	waitPhase(t, alice, game.AwaitingLocalWeapon)
	waitPhase(t, bob, game.AwaitingLocalWeapon)
	require.NoError(t, alice.SelectWeapon(ctx, game.Paper))
	require.NoError(t, bob.SelectWeapon(ctx, game.Rock))
	waitPhase(t, alice, game.Resolved)
	waitPhase(t, bob, game.Resolved)

	var rows []*domain.MatchHistory
	require.Eventually(t, func() bool {
		rows, err = repo.ListBySession(ctx, alice.ID())
		return err == nil && len(rows) == 1
	}, waitFor, 20*time.Millisecond)

	row := rows[0]
	assert.Equal(t, hostID, row.PeerID)
	require.NotNil(t, row.OpponentID)
	assert.Equal(t, guestID, *row.OpponentID)
	assert.Equal(t, "paper", row.LocalWeapon)
	assert.Equal(t, "rock", row.OpponentWeapon)
	assert.Equal(t, string(game.Player1Wins), row.Outcome)
	assert.Equal(t, domain.MatchResultWin, row.Result)
	assert.Equal(t, "0", row.StakeWei)
	assert.Nil(t, row.EscrowAddress)

	require.Eventually(t, func() bool {
		stats, err := repo.GetPeerStats(ctx, guestID, time.Now().Add(-time.Hour))
		return err == nil && stats.TotalGames == 1 && stats.Losses == 1
	}, waitFor, 20*time.Millisecond)

	recent, err := repo.ListByPeer(ctx, hostID, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestArchiveUpgradesSettledRound(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := db.Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	_, err = repository.Migrate(ctx, pool)
	require.NoError(t, err)
	repo := repository.NewMatchHistoryRepository(pool)

	row := func(result domain.MatchResult, opponent, outcome string) *domain.MatchHistory {
		return &domain.MatchHistory{
			SessionID:      "settled-" + t.Name(),
			Round:          1,
			Variant:        string(game.Escrowed),
			Role:           string(game.Responder),
			PeerID:         channel.NewPeerID(),
			LocalWeapon:    "paper",
			OpponentWeapon: opponent,
			Outcome:        outcome,
			Result:         result,
			StakeWei:       "10",
		}
	}
	_, err = pool.Exec(ctx, `DELETE FROM match_history WHERE session_id = $1`, "settled-"+t.Name())
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, row(domain.MatchResultSettled, "none", string(game.Pending))))
	require.NoError(t, repo.Create(ctx, row(domain.MatchResultLose, "scissors", string(game.Player1Wins))))
	require.NoError(t, repo.Create(ctx, row(domain.MatchResultSettled, "none", string(game.Pending))))

	rows, err := repo.ListBySession(ctx, "settled-"+t.Name())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.MatchResultLose, rows[0].Result)
	assert.Equal(t, "scissors", rows[0].OpponentWeapon)
	assert.Equal(t, string(game.Player1Wins), rows[0].Outcome)
}
