package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"advanced_rps/internal/channel"
	"advanced_rps/internal/deadline"
	"advanced_rps/internal/domain"
	"advanced_rps/internal/game"
	"advanced_rps/internal/ledger"
	"advanced_rps/internal/logger"
	"advanced_rps/internal/protocol"
)

const (
	sendTimeout    = 10 * time.Second
	archiveTimeout = 5 * time.Second
	queueSize      = 64
	subscriberBuf  = 16
)

// Settlement says how an escrow was closed without a reveal seen here.
type Settlement string

const (
	SettlementNone Settlement = ""

	// SettlementClaimed: this side claimed the timeout.
	SettlementClaimed Settlement = "claimed"

	// SettlementByOpponent: the escrow was emptied by the other side.
	SettlementByOpponent Settlement = "opponent_settled"

	// SettlementSolved: the initiator revealed on the escrow but its weapon
	// never reached this side.
	SettlementSolved Settlement = "solved"
)

// Archive stores finished rounds. Calls are made off the session loop.
type Archive interface {
	Create(ctx context.Context, m *domain.MatchHistory) error
}

type Config struct {
	Role    game.Role
	Variant game.Variant
	// PeerID is this side's channel identity.
	PeerID string
	// Channel may be given here or later through Attach.
	Channel channel.Channel

	// Ledger is required for escrowed matches.
	Ledger ledger.Ledger
	// Stake in wei, put up by the initiator. The responder reads it from the escrow.
	Stake *big.Int
	// PollInterval for re-reading escrow state. Zero means ledger.PollInterval.
	PollInterval time.Duration

	// MoveTimeout arms an informational deadline in casual matches while
	// waiting for the opponent's weapon. Zero disables it.
	MoveTimeout time.Duration

	Archive Archive
	Logger  *slog.Logger
}

// Snapshot is a read-only view of the match, published after every change.
type Snapshot struct {
	SessionID string
	Round     int
	Role      game.Role
	Variant   game.Variant
	Phase     game.Phase
	// Waiting is the phase a TimedOut or Disconnected session was in.
	Waiting game.Phase

	LocalWeapon    game.Weapon
	OpponentWeapon game.Weapon
	Outcome        game.Outcome
	Settlement     Settlement

	Stake         *big.Int
	Escrow        common.Address
	OpponentID    string
	OpponentAddr  common.Address
	TimeoutWindow time.Duration
	Deadline      time.Time
	Claimable     bool

	LocalRematch  bool
	RemoteRematch bool

	LastError error
}

// record is the mutable match state. Only the loop goroutine touches it.
type record struct {
	round   int
	phase   game.Phase
	waiting game.Phase
	expired bool

	local    game.Weapon
	opponent game.Weapon
	outcome  game.Outcome
	settled  Settlement

	stake          *big.Int
	announcedStake *big.Int
	timeoutWindow  time.Duration
	escrowAddr     common.Address
	pendingEscrow  common.Address
	opponentID     string
	opponentAddr   common.Address

	deadline       time.Time
	revealDeferred bool

	// A write whose result is unknown may still be mined.
	revealSubmitted bool
	claimSubmitted  bool

	// earlyReveal holds the initiator's weapon when it arrives before this
	// side's play is confirmed.
	earlyReveal game.Weapon

	localRematch  bool
	remoteRematch bool

	lastErr error
}

// Session drives one match for one player. All state changes happen on the
// goroutine running Run; the exported methods post work to it.
type Session struct {
	id  string
	cfg Config
	log *slog.Logger

	events  chan func()
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	ctx     context.Context
	ch      channel.Channel
	tracker *deadline.Tracker
	escrow  ledger.Escrow
	commit  *game.Commitment
	rec     record

	snapMu sync.RWMutex
	snap   Snapshot

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

func New(cfg Config) (*Session, error) {
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("session: invalid role %q", cfg.Role)
	}
	if !cfg.Variant.Valid() {
		return nil, fmt.Errorf("session: invalid variant %q", cfg.Variant)
	}
	if cfg.Variant == game.Escrowed {
		if cfg.Ledger == nil {
			return nil, errors.New("session: escrowed match needs a ledger")
		}
		if cfg.Role == game.Initiator && (cfg.Stake == nil || cfg.Stake.Sign() <= 0) {
			return nil, errors.New("session: initiator stake must be positive")
		}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = ledger.PollInterval
	}

	id := uuid.NewString()
	base := cfg.Logger
	if base == nil {
		base = logger.Get()
	}

	s := &Session{
		id:      id,
		cfg:     cfg,
		log:     base.With("session", id, "role", string(cfg.Role), "variant", string(cfg.Variant)),
		events:  make(chan func(), queueSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		subs:    make(map[chan Snapshot]struct{}),
		rec: record{
			round:   1,
			phase:   game.AwaitingChannel,
			outcome: game.Pending,
		},
	}
	if cfg.Stake != nil {
		s.rec.stake = new(big.Int).Set(cfg.Stake)
	}
	s.tracker = deadline.NewTracker(func(ev deadline.Expired) {
		s.post(func() { s.onExpired(ev) })
	})
	s.snap = s.buildSnapshot()

	if cfg.Channel != nil {
		s.post(func() { s.attach(cfg.Channel) })
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Run processes events until ctx is cancelled or Close is called.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	defer s.shutdown()

	var pollC <-chan time.Time
	if s.cfg.Variant == game.Escrowed {
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}

	s.log.Info("session started", "peer_id", s.cfg.PeerID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case fn := <-s.events:
			fn()
			s.publish()
		case <-pollC:
			if s.poll() {
				s.publish()
			}
		}
	}
}

func (s *Session) shutdown() {
	s.tracker.Cancel()
	if s.ch != nil {
		_ = s.ch.Close()
	}
	close(s.stopped)

	s.subMu.Lock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.subMu.Unlock()
	s.log.Info("session stopped", "phase", string(s.rec.phase))
}

// Close stops the loop and closes the channel.
func (s *Session) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.stopped }

// post queues fn for the loop. It gives up silently once the session stops.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.stopped:
	}
}

// do runs fn on the loop and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.events <- func() {
		err := fn()
		s.publish()
		reply <- err
	}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrClosed
	}
}

// Attach hands the session its peer channel once the provider produced it.
func (s *Session) Attach(ch channel.Channel) error {
	select {
	case s.events <- func() { s.attach(ch) }:
		return nil
	case <-s.stopped:
		return ErrClosed
	}
}

func (s *Session) attach(ch channel.Channel) {
	if s.ch != nil {
		s.log.Warn("channel already attached, closing extra", "peer", ch.PeerID())
		_ = ch.Close()
		return
	}
	s.ch = ch
	ch.Listen(channel.Handlers{
		OnOpen: func() { s.post(s.onOpen) },
		OnMessage: func(data []byte) {
			s.post(func() { s.onData(data) })
		},
		OnError: func(err error) {
			s.post(func() { s.onChannelError(err) })
		},
		OnClose: func() { s.post(s.onClose) },
	})
}

// SelectWeapon records the local player's choice and performs whatever
// ledger or channel step the role and variant require. On failure the
// session stays where it was and the call may be retried.
func (s *Session) SelectWeapon(ctx context.Context, w game.Weapon) error {
	return s.do(ctx, func() error {
		if !w.Valid() {
			return invalidState("select_weapon", "weapon %s", w)
		}
		var err error
		if s.cfg.Variant == game.Casual {
			err = s.selectCasual(w)
		} else if s.cfg.Role == game.Initiator {
			err = s.commitWeapon(w)
		} else {
			err = s.playWeapon(w)
		}
		s.setErr(err)
		return err
	})
}

// Reveal retries the initiator's reveal after a cancelled or failed attempt.
func (s *Session) Reveal(ctx context.Context) error {
	return s.do(ctx, func() error {
		err := s.reveal()
		s.setErr(err)
		return err
	})
}

// ClaimTimeout settles the escrow after the opponent let its deadline pass.
func (s *Session) ClaimTimeout(ctx context.Context) error {
	return s.do(ctx, func() error {
		err := s.claimTimeout()
		s.setErr(err)
		return err
	})
}

// RequestRematch signals that this side wants another round.
func (s *Session) RequestRematch(ctx context.Context) error {
	return s.do(ctx, func() error {
		err := s.requestRematch()
		s.setErr(err)
		return err
	})
}

// Snapshot returns the latest published state.
func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Subscribe delivers snapshots as they are published. Slow readers only see
// the most recent ones. The channel is closed when the session stops.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuf)
	s.subMu.Lock()
	select {
	case <-s.stopped:
		close(ch)
		s.subMu.Unlock()
		return ch, func() {}
	default:
	}
	ch <- s.Snapshot()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

func (s *Session) publish() {
	snap := s.buildSnapshot()

	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Session) buildSnapshot() Snapshot {
	r := s.rec
	snap := Snapshot{
		SessionID:      s.id,
		Round:          r.round,
		Role:           s.cfg.Role,
		Variant:        s.cfg.Variant,
		Phase:          r.phase,
		Waiting:        r.waiting,
		LocalWeapon:    r.local,
		OpponentWeapon: r.opponent,
		Outcome:        r.outcome,
		Settlement:     r.settled,
		Escrow:         r.escrowAddr,
		OpponentID:     r.opponentID,
		OpponentAddr:   r.opponentAddr,
		TimeoutWindow:  r.timeoutWindow,
		Deadline:       r.deadline,
		Claimable:      s.claimable(),
		LocalRematch:   r.localRematch,
		RemoteRematch:  r.remoteRematch,
		LastError:      r.lastErr,
	}
	if r.stake != nil {
		snap.Stake = new(big.Int).Set(r.stake)
	}
	return snap
}

func (s *Session) setPhase(p game.Phase) {
	if s.rec.phase == p {
		return
	}
	s.log.Debug("phase", "from", string(s.rec.phase), "to", string(p), "round", s.rec.round)
	s.rec.phase = p
	s.publish()
}

// current is the phase the match is logically in. A timed-out match is
// still waiting for whatever it was waiting for.
func (s *Session) current() game.Phase {
	if s.rec.phase == game.TimedOut {
		return s.rec.waiting
	}
	return s.rec.phase
}

// ledgerPhase also looks through Disconnected; the escrow outlives the peer.
func (s *Session) ledgerPhase() game.Phase {
	if s.rec.phase == game.TimedOut || s.rec.phase == game.Disconnected {
		return s.rec.waiting
	}
	return s.rec.phase
}

// advance moves to p, leaving TimedOut if the match was there.
func (s *Session) advance(p game.Phase) {
	if s.rec.phase == game.Disconnected {
		s.rec.waiting = p
		s.rec.expired = false
		return
	}
	s.rec.waiting = ""
	s.rec.expired = false
	s.setPhase(p)
}

func (s *Session) setErr(err error) {
	s.rec.lastErr = err
}

func (s *Session) arm(at time.Time, phase game.Phase) {
	s.rec.deadline = at
	s.rec.expired = false
	s.tracker.Arm(at, phase)
}

// armFromLedger re-reads the escrow and arms lastAction + TIMEOUT.
func (s *Session) armFromLedger(phase game.Phase) {
	st, err := ledger.ReadState(s.ctx, s.escrow)
	if err != nil {
		window := s.rec.timeoutWindow
		if window == 0 {
			window = ledger.DefaultTimeout
		}
		s.log.Warn("escrow read failed, arming local deadline", "error", err)
		s.arm(time.Now().Add(window), phase)
		return
	}
	s.rec.timeoutWindow = st.Timeout
	s.arm(st.Deadline(), phase)
}

func (s *Session) disarm() {
	s.tracker.Cancel()
	s.rec.deadline = time.Time{}
}

func (s *Session) onExpired(ev deadline.Expired) {
	if s.rec.deadline.IsZero() || !ev.ExpiresAt.Equal(s.rec.deadline) {
		return
	}
	s.rec.deadline = time.Time{}
	s.rec.expired = true
	TimeoutsFired.WithLabelValues(string(ev.Phase)).Inc()

	switch {
	case s.rec.phase == game.Disconnected:
		s.log.Info("deadline expired after disconnect", "phase", string(ev.Phase))
	case s.rec.phase.Awaiting():
		s.log.Info("deadline expired", "phase", string(ev.Phase), "claimable", s.claimable())
		s.rec.waiting = s.rec.phase
		s.setPhase(game.TimedOut)
	}
}

func (s *Session) send(op string, msg protocol.Message) error {
	if s.ch == nil {
		return channelError(op, channel.ErrClosed)
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return &Error{Reason: ReasonProtocolViolation, Op: op, Err: err}
	}
	ctx, cancel := context.WithTimeout(s.ctx, sendTimeout)
	defer cancel()
	if err := s.ch.Send(ctx, data); err != nil {
		return channelError(op, err)
	}
	return nil
}

func (s *Session) violation(kind string, err error) {
	ProtocolViolations.WithLabelValues(kind).Inc()
	s.log.Warn("peer message dropped", "reason", string(ReasonProtocolViolation), "kind", kind, "error", err)
}

func (s *Session) onOpen() {
	if s.rec.phase != game.AwaitingChannel {
		return
	}
	s.setPhase(game.Connected)

	announce := protocol.AddressAnnounce{Role: s.cfg.Role, Identity: s.cfg.PeerID}
	if s.cfg.Variant == game.Escrowed {
		announce.Address = s.cfg.Ledger.Account().Hex()
	}
	if err := s.send("announce", protocol.Connected{PeerID: s.cfg.PeerID}); err != nil {
		s.setErr(err)
		return
	}
	if err := s.send("announce", announce); err != nil {
		s.setErr(err)
	}
}

func (s *Session) onChannelError(err error) {
	s.log.Warn("channel error", "reason", string(ReasonChannelError), "error", err)
	s.setErr(channelError("channel", err))
}

func (s *Session) onClose() {
	if s.rec.phase.Terminal() {
		return
	}
	waiting := s.rec.phase
	if waiting == game.TimedOut {
		waiting = s.rec.waiting
	}
	s.rec.waiting = waiting
	if s.cfg.Variant == game.Casual {
		s.disarm()
	}
	s.log.Info("peer disconnected", "waiting", string(waiting))
	s.setPhase(game.Disconnected)
}

func (s *Session) onData(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.violation("decode", err)
		return
	}

	switch m := msg.(type) {
	case protocol.Connected:
		s.log.Debug("peer connected", "peer_id", m.PeerID)
	case protocol.AddressAnnounce:
		s.onAddressAnnounce(m)
	case protocol.EscrowAddress:
		s.onEscrowAddress(m)
	case protocol.StakeAnnounce:
		s.onStakeAnnounce(m)
	case protocol.TimeoutWindow:
		s.onTimeoutWindow(m)
	case protocol.WeaponRevealed:
		s.onWeaponRevealed(m)
	case protocol.Winner:
		s.onWinner(m)
	case protocol.RematchRequest:
		s.onRematchRequest(m)
	}
}

func (s *Session) onAddressAnnounce(m protocol.AddressAnnounce) {
	if m.Role != s.cfg.Role.Opponent() {
		s.violation("address_announce", fmt.Errorf("peer claims role %s", m.Role))
		return
	}
	if s.cfg.Variant == game.Escrowed && s.cfg.Role == game.Initiator && m.Address == "" {
		s.violation("address_announce", errors.New("responder sent no payable address"))
		return
	}
	s.rec.opponentID = m.Identity
	if m.Address != "" {
		s.rec.opponentAddr = common.HexToAddress(m.Address)
	}

	if s.rec.phase != game.Connected {
		return
	}
	if s.cfg.Variant == game.Escrowed {
		s.setPhase(game.AwaitingCommitment)
	} else {
		s.setPhase(game.AwaitingLocalWeapon)
	}
}

func (s *Session) onWeaponRevealed(m protocol.WeaponRevealed) {
	if m.Role != s.cfg.Role.Opponent() {
		s.violation("weapon_revealed", fmt.Errorf("peer revealed as %s", m.Role))
		return
	}
	switch {
	case s.cfg.Variant == game.Casual:
		s.casualOpponentWeapon(m.Weapon)
	case s.cfg.Role == game.Initiator:
		s.opponentPlayed(m.Weapon, false)
	default:
		s.initiatorRevealed(m.Weapon)
	}
}

func (s *Session) onWinner(m protocol.Winner) {
	if s.rec.outcome == game.Pending {
		s.log.Debug("winner announced before local result", "outcome", string(m.Outcome))
		return
	}
	if m.Outcome != s.rec.outcome {
		s.violation("winner", fmt.Errorf("peer says %s, local result is %s", m.Outcome, s.rec.outcome))
	}
}

// finish records the round's outcome and archives it.
func (s *Session) finish(outcome game.Outcome) {
	s.disarm()
	s.rec.outcome = outcome
	if s.rec.phase == game.Disconnected {
		s.rec.waiting = game.Resolved
	} else {
		s.setPhase(game.Resolving)
		s.advance(game.Resolved)
	}
	RoundsFinished.WithLabelValues(string(s.cfg.Variant), string(outcome)).Inc()
	s.log.Info("round resolved",
		"round", s.rec.round,
		"local", s.rec.local.String(),
		"opponent", s.rec.opponent.String(),
		"outcome", string(outcome),
	)
	s.archive(s.resultFor(outcome))
}

// outcomeOf orders the two weapons as player 1 (initiator) and player 2.
func (s *Session) outcomeOf() (game.Outcome, error) {
	if s.cfg.Role == game.Initiator {
		return game.Resolve(s.rec.local, s.rec.opponent)
	}
	return game.Resolve(s.rec.opponent, s.rec.local)
}

func (s *Session) resultFor(outcome game.Outcome) domain.MatchResult {
	winner, ok := outcome.WinnerRole()
	switch {
	case !ok:
		return domain.MatchResultDraw
	case winner == s.cfg.Role:
		return domain.MatchResultWin
	default:
		return domain.MatchResultLose
	}
}

func (s *Session) archive(result domain.MatchResult) {
	if s.cfg.Archive == nil {
		return
	}
	m := &domain.MatchHistory{
		SessionID:      s.id,
		Round:          s.rec.round,
		Variant:        string(s.cfg.Variant),
		Role:           string(s.cfg.Role),
		PeerID:         s.cfg.PeerID,
		LocalWeapon:    s.rec.local.String(),
		OpponentWeapon: s.rec.opponent.String(),
		Outcome:        string(s.rec.outcome),
		Result:         result,
		StakeWei:       "0",
		Details:        map[string]interface{}{"settlement": string(s.rec.settled)},
	}
	if s.rec.opponentID != "" {
		id := s.rec.opponentID
		m.OpponentID = &id
	}
	if s.rec.stake != nil {
		m.StakeWei = s.rec.stake.String()
	}
	if s.escrow != nil {
		addr := s.rec.escrowAddr.Hex()
		m.EscrowAddress = &addr
	}

	archive := s.cfg.Archive
	log := s.log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := archive.Create(ctx, m); err != nil {
			log.Warn("archive round failed", "round", m.Round, "error", err)
		}
	}()
}
