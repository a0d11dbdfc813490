// Package memstore is an in-memory store.DocumentStorer that enforces the
// same unique constraints and cascade rules as the Postgres schema.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hybridsearch/store"
	"hybridsearch/types"
)

type Store struct {
	mu          sync.Mutex
	nextID      int64
	docs        map[string]*types.Document // by correlation id
	byHash      map[string]string          // content hash -> correlation id
	metadata    map[string]*types.DocumentMetadata
	deadLetters []types.DeadLetter

	// CreateErr, when set, is returned by the next CreateDocument call.
	CreateErr error
}

var _ store.DocumentStorer = (*Store)(nil)

func New() *Store {
	return &Store{
		docs:     make(map[string]*types.Document),
		byHash:   make(map[string]string),
		metadata: make(map[string]*types.DocumentMetadata),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateDocument(_ context.Context, doc types.Document) (*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.CreateErr; err != nil {
		s.CreateErr = nil
		return nil, err
	}
	if _, ok := s.byHash[doc.ContentHash]; ok {
		return nil, store.ErrDuplicateContent
	}
	if _, ok := s.docs[doc.CorrelationID]; ok {
		return nil, store.ErrDuplicateCorrelation
	}
	if _, ok := s.metadata[doc.CorrelationID]; ok {
		return nil, fmt.Errorf("metadata for %s already exists", doc.CorrelationID)
	}

	created := doc
	created.ID = s.id()
	created.CreateTime = time.Now().UTC()
	s.docs[doc.CorrelationID] = &created
	s.byHash[doc.ContentHash] = doc.CorrelationID
	s.metadata[doc.CorrelationID] = &types.DocumentMetadata{
		ID:             s.id(),
		CorrelationID:  doc.CorrelationID,
		IndexStatus:    types.StatusPending,
		DocContentHash: doc.ContentHash,
	}
	out := created
	return &out, nil
}

func (s *Store) CreateDocumentMetadata(_ context.Context, correlationID, contentHash string, status types.IndexStatus) (*types.DocumentMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if md, ok := s.metadata[correlationID]; ok {
		out := *md
		return &out, nil
	}
	if _, ok := s.byHash[contentHash]; !ok {
		return nil, fmt.Errorf("foreign key violation: no document with hash %s", contentHash)
	}
	md := &types.DocumentMetadata{
		ID:             s.id(),
		CorrelationID:  correlationID,
		IndexStatus:    status,
		DocContentHash: contentHash,
	}
	s.metadata[correlationID] = md
	out := *md
	return &out, nil
}

func (s *Store) UpdateIndexStatus(_ context.Context, correlationID string, status types.IndexStatus) (*types.DocumentMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	md, ok := s.metadata[correlationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if md.IndexStatus == status {
		out := *md
		return &out, nil
	}
	if !md.IndexStatus.CanTransition(status) {
		out := *md
		return &out, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, md.IndexStatus, status)
	}
	md.IndexStatus = status
	out := *md
	return &out, nil
}

func (s *Store) GetDocumentByCorrelationID(_ context.Context, correlationID string) (*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[correlationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *doc
	return &out, nil
}

func (s *Store) GetDocumentByContentHash(ctx context.Context, contentHash string) (*types.Document, error) {
	s.mu.Lock()
	corr, ok := s.byHash[contentHash]
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetDocumentByCorrelationID(ctx, corr)
}

func (s *Store) GetMetadata(_ context.Context, correlationID string) (*types.DocumentMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.metadata[correlationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *md
	return &out, nil
}

func (s *Store) ListDocumentsByOwner(_ context.Context, ownerID int64) ([]types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []types.Document
	for _, d := range s.docs {
		if d.OwnerID == ownerID {
			docs = append(docs, *d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID > docs[j].ID })
	return docs, nil
}

func (s *Store) UpdateDocumentTitle(_ context.Context, correlationID, title string) (*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[correlationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	doc.Title = title
	out := *doc
	return &out, nil
}

func (s *Store) DeleteDocument(_ context.Context, correlationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[correlationID]
	if !ok {
		return false, nil
	}
	delete(s.docs, correlationID)
	delete(s.byHash, doc.ContentHash)
	for corr, md := range s.metadata {
		if md.DocContentHash == doc.ContentHash {
			delete(s.metadata, corr)
		}
	}
	return true, nil
}

func (s *Store) SaveDeadLetter(_ context.Context, dl types.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.deadLetters {
		if existing.Topic == dl.Topic && existing.Partition == dl.Partition && existing.Offset == dl.Offset {
			return nil
		}
	}
	dl.CreatedAt = time.Now().UTC()
	s.deadLetters = append(s.deadLetters, dl)
	return nil
}

// Documents returns a snapshot of every stored document.
func (s *Store) Documents() []types.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) AllMetadata() []types.DocumentMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.DocumentMetadata, 0, len(s.metadata))
	for _, md := range s.metadata {
		out = append(out, *md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) DeadLetters() []types.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.DeadLetter(nil), s.deadLetters...)
}
