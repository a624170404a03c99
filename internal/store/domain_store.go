package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/couchcryptid/tide-data-service/internal/domain"
)

// DomainStore is the durable cache of one series. Every load-modify-save
// sequence runs under mu, so a prefetch pass and a refresh cycle touching the
// same series never lose each other's writes. Network calls must happen
// outside Update callbacks.
type DomainStore struct {
	kind    domain.Kind
	name    string
	backend Backend
	logger  *slog.Logger

	mu sync.Mutex
}

// NewDomainStore binds a series to a backend document.
func NewDomainStore(kind domain.Kind, backend Backend, logger *slog.Logger) *DomainStore {
	return &DomainStore{
		kind:    kind,
		name:    string(kind) + "_cache",
		backend: backend,
		logger:  logger.With("domain", string(kind)),
	}
}

// Kind returns the series this store holds.
func (s *DomainStore) Kind() domain.Kind { return s.kind }

// load reads the document. Caller must hold mu.
func (s *DomainStore) load(ctx context.Context) (Document, error) {
	raw, err := s.backend.Read(ctx, s.name)
	if errors.Is(err, ErrNotFound) {
		return Document{Version: CurrentVersion, Key: s.name, Data: make(map[string]json.RawMessage)}, nil
	}
	if err != nil {
		return Document{}, err
	}
	doc, migrated, err := decodeDocument(raw, s.name)
	if err != nil {
		return Document{}, err
	}
	if migrated {
		s.logger.Info("migrated cache document", "document", s.name, "version", doc.Version)
		if err := s.save(ctx, doc); err != nil {
			return Document{}, err
		}
	}
	return doc, nil
}

// save persists the whole document. Caller must hold mu.
func (s *DomainStore) save(ctx context.Context, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	return s.backend.Write(ctx, s.name, data)
}

// Harbors returns the ids with a stored entry, sorted.
func (s *DomainStore) Harbors(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(doc.Data))
	for id := range doc.Data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Harbor returns a copy of one harbor's entry. A missing harbor yields an
// empty entry. A stored value that is not an entry yields
// domain.ErrMalformedEntry.
func (s *DomainStore) Harbor(ctx context.Context, harborID string) (domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	e, err := decodeHarbor(doc.Data[harborID])
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", s.kind, harborID, err)
	}
	if e == nil {
		e = domain.Entry{}
	}
	return e, nil
}

// Update applies fn to the harbor's entry and persists the result in one
// critical section. A nil or empty result removes the harbor. A malformed
// stored entry is handed to fn as empty. If fn fails nothing is written.
func (s *DomainStore) Update(ctx context.Context, harborID string, fn func(domain.Entry) (domain.Entry, error)) (domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	current, err := decodeHarbor(doc.Data[harborID])
	if err != nil || current == nil {
		current = domain.Entry{}
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	if len(next) == 0 {
		delete(doc.Data, harborID)
		next = domain.Entry{}
	} else {
		raw, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", s.kind, harborID, err)
		}
		doc.Data[harborID] = raw
	}

	if err := s.save(ctx, doc); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Delete removes the harbor's entry and persists the removal.
func (s *DomainStore) Delete(ctx context.Context, harborID string) error {
	_, err := s.Update(ctx, harborID, func(domain.Entry) (domain.Entry, error) { return nil, nil })
	return err
}

// Stores groups the four series stores.
type Stores struct {
	Tides        *DomainStore
	Coefficients *DomainStore
	WaterLevels  *DomainStore
	WaterTemp    *DomainStore
}

// NewStores creates one DomainStore per series over a shared backend.
func NewStores(backend Backend, logger *slog.Logger) *Stores {
	return &Stores{
		Tides:        NewDomainStore(domain.KindTides, backend, logger),
		Coefficients: NewDomainStore(domain.KindCoefficients, backend, logger),
		WaterLevels:  NewDomainStore(domain.KindWaterLevels, backend, logger),
		WaterTemp:    NewDomainStore(domain.KindWaterTemp, backend, logger),
	}
}

// For returns the store of a series.
func (s *Stores) For(kind domain.Kind) *DomainStore {
	switch kind {
	case domain.KindTides:
		return s.Tides
	case domain.KindCoefficients:
		return s.Coefficients
	case domain.KindWaterLevels:
		return s.WaterLevels
	case domain.KindWaterTemp:
		return s.WaterTemp
	}
	return nil
}
