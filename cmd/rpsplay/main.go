package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"advanced_rps/internal/channel"
	"advanced_rps/internal/config"
	"advanced_rps/internal/db"
	"advanced_rps/internal/game"
	"advanced_rps/internal/ledger"
	"advanced_rps/internal/ledger/ethledger"
	"advanced_rps/internal/logger"
	"advanced_rps/internal/relay"
	"advanced_rps/internal/repository"
	"advanced_rps/internal/session"
)

func main() {
	var (
		join    = flag.String("join", "", "peer id of the host to join; empty hosts a new match")
		role    = flag.String("role", "", "initiator or responder (default: initiator when hosting)")
		weapon  = flag.String("weapon", "", "weapon for every round; empty prompts on stdin")
		stake   = flag.String("stake", "", "stake in ether for escrowed matches")
		rounds  = flag.Int("rounds", 1, "rounds to play in a casual match")
		casual  = flag.Bool("casual", false, "play without escrow even if a ledger is configured")
		confirm = flag.Bool("confirm", false, "ask before signing each transaction")
	)
	flag.Parse()

	cfg, err := config.LoadPlayer()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger.Init(cfg.LogLevel, cfg.LogJSON)

	r, err := chooseRole(*role, *join)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	con := newConsole(os.Stdin, os.Stdout)
	sc := session.Config{
		Role:         r,
		Variant:      game.Casual,
		PeerID:       channel.NewPeerID(),
		PollInterval: cfg.PollInterval,
		MoveTimeout:  cfg.MoveTimeout,
	}

	if cfg.Escrowed() && !*casual {
		bytecode, err := readBytecode(cfg.BytecodeFile)
		if err != nil {
			logger.Fatal("escrow bytecode", "error", err)
		}
		approver := ledger.AutoApprove
		if *confirm {
			approver = con.approver()
		}
		client, err := ethledger.Dial(ctx, ethledger.Config{
			RPCURL:     cfg.RPCURL,
			PrivateKey: cfg.PrivateKey,
			Bytecode:   bytecode,
			Approver:   approver,
		})
		if err != nil {
			logger.Fatal("ledger", "error", err)
		}
		sc.Variant = game.Escrowed
		sc.Ledger = client
		if r == game.Initiator {
			sc.Stake = cfg.DefaultStake
			if *stake != "" {
				if sc.Stake, err = ledger.ParseEther(*stake); err != nil || sc.Stake.Sign() <= 0 {
					logger.Fatal("invalid stake", "stake", *stake)
				}
			}
		}
		con.say("account %s", client.Account().Hex())
	}

	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("match archive disabled", "error", err)
		} else {
			defer pool.Close()
			sc.Archive = repository.NewMatchHistoryRepository(pool)
		}
	}

	s, err := session.New(sc)
	if err != nil {
		logger.Fatal("session", "error", err)
	}

	provider, err := channel.NewRelayProvider(cfg.RelayURL, sc.PeerID, tokenSource(cfg))
	if err != nil {
		logger.Fatal("relay", "error", err)
	}
	defer provider.Close()

	go func() {
		if err := s.Run(ctx); err != nil {
			logger.Debug("session stopped", "error", err)
		}
	}()

	if *join == "" {
		provider.OnIncomingConnection(func(ch channel.Channel) {
			if err := s.Attach(ch); err != nil {
				logger.Warn("attach", "error", err)
			}
		})
		con.say("waiting for an opponent, share this id: %s", sc.PeerID)
	} else {
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		ch, err := provider.Connect(dialCtx, *join)
		cancel()
		if err != nil {
			logger.Fatal("connect", "peer", *join, "error", err)
		}
		if err := s.Attach(ch); err != nil {
			logger.Fatal("attach", "error", err)
		}
	}

	p := &player{
		s:      s,
		con:    con,
		weapon: *weapon,
		rounds: *rounds,
	}
	code := p.play(ctx)
	_ = s.Close()
	<-s.Done()
	os.Exit(code)
}

// tokenSource mints tokens locally when the relay secret is shared with the
// player, and asks the relay otherwise.
func tokenSource(cfg *config.Player) channel.TokenSource {
	if cfg.RelaySecret == "" {
		return channel.FetchToken(cfg.RelayURL)
	}
	tokens, err := relay.NewTokens(cfg.RelaySecret, relay.DefaultTokenTTL)
	if err != nil {
		logger.Fatal("relay secret", "error", err)
	}
	return func(_ context.Context, peerID string) (string, error) {
		return tokens.Issue(peerID)
	}
}
