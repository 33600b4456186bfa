package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/bid"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/joboffer"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/pricing"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

// memoryData is one generation of stored entities. Committed state and
// per-transaction staging both use it.
type memoryData struct {
	jobOffers   map[uuid.UUID]*joboffer.JobOffer
	bids        map[uuid.UUID]*bid.Bid
	recs        map[uuid.UUID]*pricing.Recommendation
	assignments map[uuid.UUID]*joboffer.Assignment
}

func newMemoryData() *memoryData {
	return &memoryData{
		jobOffers:   make(map[uuid.UUID]*joboffer.JobOffer),
		bids:        make(map[uuid.UUID]*bid.Bid),
		recs:        make(map[uuid.UUID]*pricing.Recommendation),
		assignments: make(map[uuid.UUID]*joboffer.Assignment),
	}
}

// MemoryStore keeps everything in process. It is used for local development
// and by service tests; job offer transactions are serialized with a
// per-offer lock and staged writes are applied only on success.
type MemoryStore struct {
	mu    sync.RWMutex
	base  *memoryData
	rates []*currency.ExchangeRate

	locksMu sync.Mutex
	locks   map[uuid.UUID]*offerLock
}

type offerLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryStorage builds a Storage backed by a MemoryStore
func NewMemoryStorage() *Storage {
	return NewMemoryStore().Storage()
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		base:  newMemoryData(),
		locks: make(map[uuid.UUID]*offerLock),
	}
}

// Storage exposes the store through the repository ports
func (s *MemoryStore) Storage() *Storage {
	return &Storage{
		Repositories:  s.repositories(nil),
		ExchangeRates: &memoryExchangeRates{store: s},
		Tx:            s,
	}
}

func (s *MemoryStore) repositories(staged *memoryData) Repositories {
	v := &memoryView{store: s, staged: staged}
	return Repositories{
		JobOffers:       &memoryJobOffers{v},
		Bids:            &memoryBids{v},
		Recommendations: &memoryRecommendations{v},
		Assignments:     &memoryAssignments{v},
	}
}

// WithinJobOffer implements TxManager
func (s *MemoryStore) WithinJobOffer(ctx context.Context, jobOfferID uuid.UUID, fn func(ctx context.Context, repos Repositories) error) error {
	if err := s.lock(ctx, jobOfferID); err != nil {
		return err
	}
	defer s.unlock(jobOfferID)

	staged := newMemoryData()
	if err := fn(ctx, s.repositories(staged)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range staged.jobOffers {
		s.base.jobOffers[id] = j
	}
	for id, b := range staged.bids {
		s.base.bids[id] = b
	}
	for id, r := range staged.recs {
		s.base.recs[id] = r
	}
	for id, a := range staged.assignments {
		s.base.assignments[id] = a
	}
	return nil
}

func (s *MemoryStore) lock(ctx context.Context, id uuid.UUID) error {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &offerLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		s.release(id, l)
		return ctx.Err()
	}
}

func (s *MemoryStore) unlock(id uuid.UUID) {
	s.locksMu.Lock()
	l := s.locks[id]
	s.locksMu.Unlock()
	<-l.ch
	s.release(id, l)
}

func (s *MemoryStore) release(id uuid.UUID, l *offerLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}

// memoryView reads staged writes first, then committed state
type memoryView struct {
	store  *MemoryStore
	staged *memoryData
}

func (v *memoryView) jobOffer(id uuid.UUID) *joboffer.JobOffer {
	if v.staged != nil {
		if j, ok := v.staged.jobOffers[id]; ok {
			return j
		}
	}
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return v.store.base.jobOffers[id]
}

func (v *memoryView) bid(id uuid.UUID) *bid.Bid {
	if v.staged != nil {
		if b, ok := v.staged.bids[id]; ok {
			return b
		}
	}
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return v.store.base.bids[id]
}

// bids returns clones of every visible bid matching keep
func (v *memoryView) bids(keep func(*bid.Bid) bool) []*bid.Bid {
	seen := make(map[uuid.UUID]struct{})
	var out []*bid.Bid
	if v.staged != nil {
		for id, b := range v.staged.bids {
			seen[id] = struct{}{}
			if keep(b) {
				out = append(out, b.Clone())
			}
		}
	}
	v.store.mu.RLock()
	for id, b := range v.store.base.bids {
		if _, ok := seen[id]; ok {
			continue
		}
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	v.store.mu.RUnlock()
	return out
}

// write applies fn to the staging area, or to committed state outside a
// transaction
func (v *memoryView) write(fn func(d *memoryData)) {
	if v.staged != nil {
		fn(v.staged)
		return
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	fn(v.store.base)
}

type memoryJobOffers struct{ v *memoryView }

func (r *memoryJobOffers) Create(ctx context.Context, j *joboffer.JobOffer) error {
	if r.v.jobOffer(j.ID) != nil {
		return ErrDuplicateKey
	}
	c := j.Clone()
	r.v.write(func(d *memoryData) { d.jobOffers[c.ID] = c })
	return nil
}

func (r *memoryJobOffers) GetByID(ctx context.Context, id uuid.UUID) (*joboffer.JobOffer, error) {
	j := r.v.jobOffer(id)
	if j == nil {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (r *memoryJobOffers) Update(ctx context.Context, j *joboffer.JobOffer) error {
	if r.v.jobOffer(j.ID) == nil {
		return ErrNotFound
	}
	c := j.Clone()
	c.UpdatedAt = time.Now().UTC()
	r.v.write(func(d *memoryData) { d.jobOffers[c.ID] = c })
	return nil
}

func (r *memoryJobOffers) List(ctx context.Context, filter JobOfferFilter) ([]*joboffer.JobOffer, error) {
	visible := make(map[uuid.UUID]*joboffer.JobOffer)
	r.v.store.mu.RLock()
	for id, j := range r.v.store.base.jobOffers {
		visible[id] = j
	}
	r.v.store.mu.RUnlock()
	if r.v.staged != nil {
		for id, j := range r.v.staged.jobOffers {
			visible[id] = j
		}
	}

	var out []*joboffer.JobOffer
	for _, j := range visible {
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		if filter.ClientID != nil && j.ClientID != *filter.ClientID {
			continue
		}
		out = append(out, j.Clone())
	}

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return paginate(out, filter.Offset, filter.Limit), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type memoryBids struct{ v *memoryView }

func (r *memoryBids) Create(ctx context.Context, b *bid.Bid) error {
	if r.v.bid(b.ID) != nil {
		return ErrDuplicateKey
	}
	if b.Status == bid.StatusActive {
		dup := r.v.bids(func(o *bid.Bid) bool {
			return o.JobOfferID == b.JobOfferID && o.BidderID == b.BidderID && o.Status == bid.StatusActive
		})
		if len(dup) > 0 {
			return ErrDuplicateKey
		}
	}
	c := b.Clone()
	r.v.write(func(d *memoryData) { d.bids[c.ID] = c })
	return nil
}

func (r *memoryBids) GetByID(ctx context.Context, id uuid.UUID) (*bid.Bid, error) {
	b := r.v.bid(id)
	if b == nil {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (r *memoryBids) Update(ctx context.Context, b *bid.Bid) error {
	if r.v.bid(b.ID) == nil {
		return ErrNotFound
	}
	c := b.Clone()
	r.v.write(func(d *memoryData) { d.bids[c.ID] = c })
	return nil
}

func (r *memoryBids) ListByJobOffer(ctx context.Context, jobOfferID uuid.UUID) ([]*bid.Bid, error) {
	out := r.v.bids(func(b *bid.Bid) bool { return b.JobOfferID == jobOfferID })
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (r *memoryBids) ListByBidder(ctx context.Context, bidderID uuid.UUID) ([]*bid.Bid, error) {
	out := r.v.bids(func(b *bid.Bid) bool { return b.BidderID == bidderID })
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (r *memoryBids) GetActiveByBidder(ctx context.Context, jobOfferID, bidderID uuid.UUID) (*bid.Bid, error) {
	out := r.v.bids(func(b *bid.Bid) bool {
		return b.JobOfferID == jobOfferID && b.BidderID == bidderID && b.Status == bid.StatusActive
	})
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out[0], nil
}

func (r *memoryBids) GetCurrentHighest(ctx context.Context, jobOfferID uuid.UUID) (*bid.Bid, error) {
	out := r.v.bids(func(b *bid.Bid) bool {
		return b.JobOfferID == jobOfferID && b.IsCurrentHighest && b.Status == bid.StatusActive
	})
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out[0], nil
}

type memoryRecommendations struct{ v *memoryView }

func (r *memoryRecommendations) Upsert(ctx context.Context, rec *pricing.Recommendation) error {
	c := rec.Clone()
	r.v.write(func(d *memoryData) { d.recs[c.JobOfferID] = c })
	return nil
}

func (r *memoryRecommendations) Get(ctx context.Context, jobOfferID uuid.UUID) (*pricing.Recommendation, error) {
	if r.v.staged != nil {
		if rec, ok := r.v.staged.recs[jobOfferID]; ok {
			return rec.Clone(), nil
		}
	}
	r.v.store.mu.RLock()
	defer r.v.store.mu.RUnlock()
	rec, ok := r.v.store.base.recs[jobOfferID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

type memoryAssignments struct{ v *memoryView }

func (r *memoryAssignments) Create(ctx context.Context, a *joboffer.Assignment) error {
	if _, err := r.GetByJobOffer(ctx, a.JobOfferID); err == nil {
		return ErrDuplicateKey
	}
	c := *a
	r.v.write(func(d *memoryData) { d.assignments[c.JobOfferID] = &c })
	return nil
}

func (r *memoryAssignments) GetByJobOffer(ctx context.Context, jobOfferID uuid.UUID) (*joboffer.Assignment, error) {
	if r.v.staged != nil {
		if a, ok := r.v.staged.assignments[jobOfferID]; ok {
			c := *a
			return &c, nil
		}
	}
	r.v.store.mu.RLock()
	defer r.v.store.mu.RUnlock()
	a, ok := r.v.store.base.assignments[jobOfferID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

type memoryExchangeRates struct{ store *MemoryStore }

func (r *memoryExchangeRates) GetLatestActive(ctx context.Context, from, to values.Currency) (*currency.ExchangeRate, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var latest *currency.ExchangeRate
	for _, rate := range r.store.rates {
		if rate.From != from || rate.To != to || !rate.IsActive {
			continue
		}
		if latest == nil || rate.LastUpdated.After(latest.LastUpdated) {
			latest = rate
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (r *memoryExchangeRates) History(ctx context.Context, from, to values.Currency, since time.Time) ([]*currency.ExchangeRate, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*currency.ExchangeRate
	for _, rate := range r.store.rates {
		if rate.From == from && rate.To == to && !rate.LastUpdated.Before(since) {
			c := *rate
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].LastUpdated.Before(out[k].LastUpdated) })
	return out, nil
}

func (r *memoryExchangeRates) Save(ctx context.Context, rate *currency.ExchangeRate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if rate.IsActive {
		for _, existing := range r.store.rates {
			if existing.From == rate.From && existing.To == rate.To {
				existing.IsActive = false
			}
		}
	}
	c := *rate
	r.store.rates = append(r.store.rates, &c)
	return nil
}
