package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"advanced_rps/internal/game"
	"advanced_rps/internal/ledger"
	"advanced_rps/internal/session"
)

// Attempts per step before the player gives up.
const maxRetries = 3

// console serializes prompts; the session may ask for a signature while the
// player loop is idle.
type console struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{in: bufio.NewReader(in), out: out}
}

func (c *console) say(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) ask(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// approver asks before every transaction, like a wallet popup would.
func (c *console) approver() ledger.Approver {
	return ledger.ApproverFunc(func(_ context.Context, req ledger.TxRequest) error {
		value := "0"
		if req.Value != nil {
			value = ledger.FormatEther(req.Value)
		}
		answer, err := c.ask(fmt.Sprintf("sign %s to %s with %s ether? [y/N] ", req.Method, req.To.Hex(), value))
		if err != nil {
			return err
		}
		if a := strings.ToLower(answer); a != "y" && a != "yes" {
			return ledger.ErrUserCancelled
		}
		return nil
	})
}

type player struct {
	s      *session.Session
	con    *console
	weapon string
	rounds int

	played    int
	selected  int
	failures  int
	rematched int
	reveals   int
	claims    int
	lastPhase game.Phase
}

// play follows the session until the match is over and returns the exit code.
func (p *player) play(ctx context.Context) int {
	sub, unsubscribe := p.s.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return 1
		case snap, ok := <-sub:
			if !ok {
				return 1
			}
			if done, code := p.step(ctx, snap); done {
				return code
			}
		}
	}
}

func (p *player) step(ctx context.Context, snap session.Snapshot) (bool, int) {
	if snap.Phase != p.lastPhase {
		p.lastPhase = snap.Phase
		p.con.say("round %d: %s", snap.Round, snap.Phase)
	}

	if snap.Claimable && snap.Settlement == session.SettlementNone && p.claims < maxRetries {
		p.claims++
		if err := p.s.ClaimTimeout(ctx); err != nil {
			p.con.say("claim failed: %v", err)
		}
		return false, 0
	}

	switch snap.Phase {
	case game.AwaitingLocalWeapon, game.AwaitingCommitment:
		if !p.choose(ctx, snap) {
			return true, 1
		}
	case game.Connected:
		if snap.Variant == game.Casual && snap.Round > 1 && !p.choose(ctx, snap) {
			return true, 1
		}
	case game.AwaitingReveal:
		if snap.Role == game.Initiator && snap.LastError != nil && p.reveals < maxRetries {
			p.reveals++
			p.con.say("reveal failed: %v, retrying", snap.LastError)
			if err := p.s.Reveal(ctx); err != nil {
				p.con.say("reveal failed: %v", err)
			}
		}
	case game.Resolved:
		if p.played < snap.Round {
			p.played = snap.Round
			p.con.say("%s vs %s: %s", snap.LocalWeapon, snap.OpponentWeapon, verdict(snap))
		}
		if snap.Variant == game.Escrowed || p.played >= p.rounds {
			return true, 0
		}
		if p.rematched < snap.Round {
			p.rematched = snap.Round
			if err := p.s.RequestRematch(ctx); err != nil {
				p.con.say("rematch failed: %v", err)
			}
		}
	case game.TimedOut:
		if snap.Variant == game.Casual {
			p.con.say("opponent is taking long to move")
		}
	case game.Settled:
		p.con.say("escrow settled (%s)", snap.Settlement)
		return true, 0
	case game.Disconnected:
		if snap.Waiting == game.Resolved {
			return true, 0
		}
		if snap.Waiting == game.Settled {
			p.con.say("escrow settled (%s)", snap.Settlement)
			return true, 0
		}
		if snap.Variant == game.Escrowed && !snap.Deadline.IsZero() {
			// stay around to claim once the deadline passes
			return false, 0
		}
		p.con.say("opponent left")
		return true, 1
	}
	return false, 0
}

// choose plays a weapon for the current round. It returns false once the
// player has failed too often to keep going.
func (p *player) choose(ctx context.Context, snap session.Snapshot) bool {
	if snap.LocalWeapon != game.None || p.selected >= snap.Round {
		return true
	}
	if p.failures >= maxRetries {
		return false
	}
	w, err := p.pick()
	if err == nil {
		p.selected = snap.Round
		if err = p.s.SelectWeapon(ctx, w); err != nil {
			p.selected = snap.Round - 1
		}
	}
	if err != nil {
		p.failures++
		p.con.say("could not play: %v", err)
		return p.failures < maxRetries
	}
	p.failures = 0
	return true
}

func (p *player) pick() (game.Weapon, error) {
	if p.weapon != "" {
		return game.ParseWeapon(p.weapon)
	}
	names := make([]string, len(game.Weapons))
	for i, w := range game.Weapons {
		names[i] = w.String()
	}
	line, err := p.con.ask(fmt.Sprintf("weapon (%s): ", strings.Join(names, ", ")))
	if err != nil {
		return game.None, err
	}
	return game.ParseWeapon(line)
}

func verdict(snap session.Snapshot) string {
	winner, ok := snap.Outcome.WinnerRole()
	switch {
	case snap.Outcome == game.Draw:
		return "draw"
	case !ok:
		return string(snap.Outcome)
	case winner == snap.Role:
		return "you win"
	default:
		return "you lose"
	}
}

func chooseRole(flagValue, join string) (game.Role, error) {
	if flagValue == "" {
		if join == "" {
			return game.Initiator, nil
		}
		return game.Responder, nil
	}
	r := game.Role(strings.ToLower(flagValue))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", flagValue)
	}
	return r, nil
}

// readBytecode loads hex escrow creation code, with or without 0x.
func readBytecode(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := strings.TrimSpace(string(b))
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	code, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%s: empty bytecode", path)
	}
	return code, nil
}
