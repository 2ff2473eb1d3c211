package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"advanced_rps/internal/game"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

// DecodeError describes why an inbound frame was rejected.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode: %v", e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode renders msg as a tagged JSON envelope.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode: nil message")
	}
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	return json.Marshal(envelope{Type: msg.Type(), Payload: payload})
}

// Decode parses one envelope. It never panics on bad input; unknown tags
// yield ErrUnknownType and bad shapes yield ErrMalformed, both wrapped in a
// *DecodeError. Unknown fields are ignored.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if env.Type == "" {
		return nil, &DecodeError{Err: fmt.Errorf("%w: missing type", ErrMalformed)}
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeConnected:
		msg, err = decodePayload[Connected](env.Payload)
	case TypeAddressAnnounce:
		msg, err = decodePayload[AddressAnnounce](env.Payload)
	case TypeEscrowAddress:
		msg, err = decodePayload[EscrowAddress](env.Payload)
	case TypeStakeAnnounce:
		msg, err = decodePayload[StakeAnnounce](env.Payload)
	case TypeTimeoutWindow:
		msg, err = decodePayload[TimeoutWindow](env.Payload)
	case TypeWeaponRevealed:
		msg, err = decodePayload[WeaponRevealed](env.Payload)
	case TypeWinner:
		msg, err = decodePayload[Winner](env.Payload)
	case TypeRematchRequest:
		msg, err = decodePayload[RematchRequest](env.Payload)
	default:
		return nil, &DecodeError{Type: env.Type, Err: ErrUnknownType}
	}
	if err != nil {
		return nil, &DecodeError{Type: env.Type, Err: err}
	}
	return msg, nil
}

func decodePayload[T Message](raw json.RawMessage) (Message, error) {
	var m T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

func (Connected) validate() error { return nil }

func (m AddressAnnounce) validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("role %q", m.Role)
	}
	if m.Address != "" && !common.IsHexAddress(m.Address) {
		return fmt.Errorf("address %q", m.Address)
	}
	return nil
}

func (m EscrowAddress) validate() error {
	if !common.IsHexAddress(m.Address) {
		return fmt.Errorf("address %q", m.Address)
	}
	return nil
}

func (m StakeAnnounce) validate() error {
	_, err := m.Wei()
	return err
}

// Wei parses the announced stake.
func (m StakeAnnounce) Wei() (*big.Int, error) {
	v, ok := new(big.Int).SetString(m.Stake, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("stake %q", m.Stake)
	}
	return v, nil
}

func (m TimeoutWindow) validate() error {
	if m.Seconds <= 0 {
		return fmt.Errorf("seconds %d", m.Seconds)
	}
	return nil
}

func (m WeaponRevealed) validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("role %q", m.Role)
	}
	if !m.Weapon.Valid() {
		return fmt.Errorf("weapon %s", m.Weapon)
	}
	return nil
}

func (m Winner) validate() error {
	if !m.Outcome.Valid() || m.Outcome == game.Pending {
		return fmt.Errorf("outcome %q", m.Outcome)
	}
	return nil
}

func (m RematchRequest) validate() error {
	if m.Round < 0 {
		return fmt.Errorf("round %d", m.Round)
	}
	return nil
}
