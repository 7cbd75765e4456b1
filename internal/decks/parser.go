package decks

import (
	"fmt"
	"strconv"
	"strings"

	"deckforge-backend/internal/errors"
)

// parseDeckList turns raw deck list text into cards. Each entry is
// "<quantity> <card name>" with an optional 'x' suffix on the quantity
// ("4x Lightning Bolt"). Repeated names accumulate. Blank lines and
// comment lines are skipped.
func parseDeckList(list string) ([]Card, error) {
	lines := strings.Split(list, "\n")
	index := make(map[string]int)
	cards := make([]Card, 0, len(lines))

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		quantity, name, err := parseLine(line)
		if err != nil {
			return nil, errors.Validation(errors.CodeDeckValidationFailed,
				fmt.Sprintf("invalid deck list entry on line %d", i+1)).
				WithField("list").
				WithDetails(line).
				WithCause(err).
				Build()
		}

		if idx, ok := index[name]; ok {
			cards[idx].Quantity += quantity
		} else {
			index[name] = len(cards)
			cards = append(cards, Card{Name: name, Quantity: quantity})
		}
	}

	return cards, nil
}

func parseLine(line string) (int, string, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, "", fmt.Errorf("expected \"<quantity> <card name>\"")
	}

	rawQuantity := strings.TrimSuffix(strings.ToLower(fields[0]), "x")
	quantity, err := strconv.Atoi(rawQuantity)
	if err != nil {
		return 0, "", fmt.Errorf("quantity %q is not a number", fields[0])
	}
	if quantity < 1 || quantity > maxCardCopies {
		return 0, "", fmt.Errorf("quantity must be between 1 and %d", maxCardCopies)
	}

	return quantity, strings.Join(fields[1:], " "), nil
}

// validateDeck checks the assembled deck against the size bounds.
func validateDeck(deck *Deck) error {
	if deck.CardCount < minDeckCards {
		return errors.Validation(errors.CodeDeckValidationFailed,
			"deck list contains no cards").WithField("list").Build()
	}
	if deck.CardCount > maxDeckCards {
		return errors.Validation(errors.CodeDeckValidationFailed,
			fmt.Sprintf("deck exceeds %d cards", maxDeckCards)).
			WithField("list").
			WithDetails(fmt.Sprintf("%d cards", deck.CardCount)).
			Build()
	}
	// Repeated entries accumulate, so the per-line cap is not enough.
	for _, card := range deck.Cards {
		if card.Quantity > maxCardCopies {
			return errors.Validation(errors.CodeDeckValidationFailed,
				fmt.Sprintf("more than %d copies of %q", maxCardCopies, card.Name)).
				WithField("list").Build()
		}
	}
	return nil
}

// renderDeckList is the inverse of parseDeckList: one "<quantity> <name>"
// line per card.
func renderDeckList(deck *Deck) string {
	var b strings.Builder
	for _, card := range deck.Cards {
		fmt.Fprintf(&b, "%d %s\n", card.Quantity, card.Name)
	}
	return b.String()
}
