package game

import "fmt"

// beats[w] holds the two weapons w defeats.
var beats = map[Weapon][2]Weapon{
	Rock:     {Scissors, Lizard},
	Paper:    {Rock, Spock},
	Scissors: {Paper, Lizard},
	Spock:    {Scissors, Rock},
	Lizard:   {Paper, Spock},
}

// Beats reports whether a defeats b.
func Beats(a, b Weapon) bool {
	pair, ok := beats[a]
	return ok && (pair[0] == b || pair[1] == b)
}

// Resolve decides a round where a is player 1's weapon and b is player 2's.
// Both sides of a match call it independently and must agree, so it only
// depends on the matchup table above.
func Resolve(a, b Weapon) (Outcome, error) {
	if !a.Valid() || !b.Valid() {
		return Pending, fmt.Errorf("resolve %s vs %s: %w", a, b, ErrInvalidState)
	}

	switch {
	case a == b:
		return Draw, nil
	case Beats(a, b):
		return Player1Wins, nil
	default:
		return Player2Wins, nil
	}
}
