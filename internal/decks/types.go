package decks

import (
	"time"
)

// Job types handled by this package.
const (
	JobTypeImport   = "deck-import"
	JobTypeExport   = "deck-export"
	JobTypeCardSync = "card-sync"
)

// Cache tags. Deck entries carry both the collection tag and their own
// per-deck tag so a single deck or the whole collection can be invalidated.
const (
	TagDecks = "decks"
	TagCards = "cards"
)

// Deck size bounds enforced on import.
const (
	minDeckCards  = 1
	maxDeckCards  = 500
	maxCardCopies = 99
)

// Card is one line of a deck list.
type Card struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Deck is the stored representation of an imported deck.
type Deck struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Format     string    `json:"format"`
	Cards      []Card    `json:"cards"`
	CardCount  int       `json:"card_count"`
	ImportedAt time.Time `json:"imported_at"`
}

// ImportRequest is the payload for a deck-import job. List is the raw deck
// list text, one "<quantity> <card name>" entry per line; blank lines and
// lines starting with '#' or '//' are ignored.
type ImportRequest struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	List   string `json:"list"`
	UserID string `json:"user_id,omitempty"`
}

// ImportResult is the result payload of a completed deck-import job.
type ImportResult struct {
	DeckID        string `json:"deck_id"`
	CardCount     int    `json:"card_count"`
	DistinctCards int    `json:"distinct_cards"`
}

// ExportRequest is the payload for a deck-export job.
type ExportRequest struct {
	DeckID string `json:"deck_id"`
}

// ExportResult is the result payload of a completed deck-export job. The
// rendered list is also cached under ExportKey for repeated downloads.
type ExportResult struct {
	DeckID    string `json:"deck_id"`
	Name      string `json:"name"`
	List      string `json:"list"`
	CardCount int    `json:"card_count"`
}

// SyncResult is the result payload of a card-sync job.
type SyncResult struct {
	CardsRefreshed int       `json:"cards_refreshed"`
	SyncedAt       time.Time `json:"synced_at"`
}

// DeckKey returns the cache key for a stored deck.
func DeckKey(deckID string) string {
	return "deck:" + deckID
}

// DeckTag returns the per-deck invalidation tag.
func DeckTag(deckID string) string {
	return "deck:" + deckID
}

// ExportKey returns the cache key for a rendered deck export.
func ExportKey(deckID string) string {
	return "export:" + deckID
}

// CardKey returns the cache key for a card's reference data.
func CardKey(name string) string {
	return "card:" + name
}
