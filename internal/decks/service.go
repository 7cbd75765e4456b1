// Package decks implements the deck pipeline that runs on the background
// job processor: importing raw deck lists, exporting stored decks, and
// refreshing shared card data. Rules engines, pricing, and rendering live
// elsewhere; this layer is orchestration glue over the cache and job
// runtime.
package decks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deckforge-backend/internal/errors"
	"deckforge-backend/internal/infrastructure/cache"
	"deckforge-backend/internal/jobs"
)

const (
	// cardDataTTL keeps card reference data around between syncs.
	cardDataTTL = 24 * time.Hour
	// exportTTL bounds how long a rendered export is reusable.
	exportTTL = time.Hour
)

// Service owns the deck job handlers. Cache writes run through the error
// handler so failures are logged and counted centrally before the job
// runtime decides on retries.
type Service struct {
	cache        *cache.MemoryCache
	errorHandler *errors.ErrorHandler
	logger       *zap.Logger
}

// NewService creates the deck service.
func NewService(memCache *cache.MemoryCache, errorHandler *errors.ErrorHandler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cache:        memCache,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// Register binds the deck handlers to the processor. concurrencyFor maps a
// job type to its worker limit.
func (s *Service) Register(p *jobs.Processor, concurrencyFor func(jobType string) int) error {
	handlers := map[string]jobs.HandlerFunc{
		JobTypeImport:   s.HandleImport,
		JobTypeExport:   s.HandleExport,
		JobTypeCardSync: s.HandleCardSync,
	}
	for jobType, handler := range handlers {
		if err := p.RegisterHandler(jobType, handler, concurrencyFor(jobType)); err != nil {
			return err
		}
	}
	return nil
}

// HandleImport parses and validates a raw deck list, stores the deck in the
// cache tagged for both collection-wide and per-deck invalidation, and
// returns the new deck's id.
func (s *Service) HandleImport(ctx context.Context, job *jobs.JobContext) (json.RawMessage, error) {
	var req ImportRequest
	if err := job.Bind(&req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.Validation(errors.CodeMissingField,
			"deck name is required").WithField("name").Build()
	}
	_ = job.ReportProgress(10)

	cards, err := parseDeckList(req.List)
	if err != nil {
		return nil, err
	}

	deck := &Deck{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(req.Name),
		Format:     normalizeFormat(req.Format),
		Cards:      cards,
		ImportedAt: time.Now().UTC(),
	}
	for _, card := range cards {
		deck.CardCount += card.Quantity
	}
	if err := validateDeck(deck); err != nil {
		return nil, err
	}
	_ = job.ReportProgress(60)

	errCtx := errors.ErrorContext{
		Service:   "decks",
		Operation: "import",
		UserID:    req.UserID,
		Metadata:  map[string]string{"deck_id": deck.ID},
	}
	err = s.errorHandler.WithErrorHandling(ctx, errCtx, func(ctx context.Context) error {
		return s.cache.Set(ctx, DeckKey(deck.ID), deck,
			cache.WithTags(TagDecks, DeckTag(deck.ID)))
	})
	if err != nil {
		return nil, errors.Wrap(err, "HandleImport", "failed to store imported deck")
	}
	_ = job.ReportProgress(100)

	job.Logger().Info("deck imported",
		zap.String("deck_id", deck.ID),
		zap.String("deck_name", deck.Name),
		zap.Int("card_count", deck.CardCount),
	)
	return json.Marshal(ImportResult{
		DeckID:        deck.ID,
		CardCount:     deck.CardCount,
		DistinctCards: len(deck.Cards),
	})
}

// HandleExport renders a cached deck back into deck list text. The rendered
// list is cached best-effort for repeated downloads; a caching failure is
// handled centrally and does not fail the job.
func (s *Service) HandleExport(ctx context.Context, job *jobs.JobContext) (json.RawMessage, error) {
	var req ExportRequest
	if err := job.Bind(&req); err != nil {
		return nil, err
	}
	if req.DeckID == "" {
		return nil, errors.Validation(errors.CodeMissingField,
			"deck id is required").WithField("deck_id").Build()
	}

	value, ok := s.cache.Get(ctx, DeckKey(req.DeckID))
	if !ok {
		return nil, errors.NotFound(errors.CodeDeckNotFound,
			fmt.Sprintf("deck %q is not in the cache", req.DeckID)).
			WithResource(req.DeckID).Build()
	}
	deck, err := decodeDeck(value)
	if err != nil {
		return nil, err
	}
	_ = job.ReportProgress(50)

	list := renderDeckList(deck)
	errCtx := errors.ErrorContext{
		Service:   "decks",
		Operation: "export",
		Metadata:  map[string]string{"deck_id": req.DeckID},
	}
	_ = s.errorHandler.WithErrorHandling(ctx, errCtx, func(ctx context.Context) error {
		return s.cache.Set(ctx, ExportKey(req.DeckID), list,
			cache.WithTags(TagDecks, DeckTag(req.DeckID)),
			cache.WithTTL(exportTTL))
	})
	_ = job.ReportProgress(100)

	return json.Marshal(ExportResult{
		DeckID:    deck.ID,
		Name:      deck.Name,
		List:      list,
		CardCount: deck.CardCount,
	})
}

// HandleCardSync refreshes the shared card reference data. Stale entries
// are invalidated as a group first so readers never see a mix of old and
// new records.
func (s *Service) HandleCardSync(ctx context.Context, job *jobs.JobContext) (json.RawMessage, error) {
	catalog := referenceCatalog()
	_ = job.ReportProgress(10)

	s.cache.InvalidateTag(ctx, TagCards)

	values := make(map[string]any, len(catalog))
	for _, card := range catalog {
		values[CardKey(card.Name)] = card
	}

	errCtx := errors.ErrorContext{
		Service:   "decks",
		Operation: "card_sync",
	}
	err := s.errorHandler.WithErrorHandling(ctx, errCtx, func(ctx context.Context) error {
		return s.cache.SetMulti(ctx, values,
			cache.WithTags(TagCards),
			cache.WithTTL(cardDataTTL))
	})
	if err != nil {
		return nil, errors.Wrap(err, "HandleCardSync", "failed to refresh card data")
	}
	_ = job.ReportProgress(100)

	job.Logger().Info("card data refreshed", zap.Int("cards", len(catalog)))
	return json.Marshal(SyncResult{
		CardsRefreshed: len(catalog),
		SyncedAt:       time.Now().UTC(),
	})
}

// decodeDeck recovers a Deck from a cached value. Serialized entries come
// back from the cache as generic JSON shapes, so recover the struct by
// round-tripping through JSON.
func decodeDeck(value any) (*Deck, error) {
	if deck, ok := value.(*Deck); ok {
		return deck, nil
	}

	raw, err := json.Marshal(value)
	if err == nil {
		var deck Deck
		if err = json.Unmarshal(raw, &deck); err == nil && deck.ID != "" {
			return &deck, nil
		}
	}
	return nil, errors.CacheFailure(errors.CodeCacheSerializationFailed,
		"cached deck could not be decoded").WithCause(err).Build()
}

func normalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return "standard"
	}
	return format
}
