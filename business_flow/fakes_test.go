package businessflow

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/Exchange-Bridge/models"
	"github.com/amirphl/Exchange-Bridge/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type fakeOrderRepo struct {
	mu     sync.Mutex
	nextID uint
	orders map[string]*models.ExchangeOrder
	// conflictOnce makes the next Save of this reference fail as a unique violation
	conflictOnce string
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[string]*models.ExchangeOrder)}
}

func (r *fakeOrderRepo) ByID(_ context.Context, id uint) (*models.ExchangeOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeOrderRepo) matches(o *models.ExchangeOrder, f models.ExchangeOrderFilter) bool {
	if f.ReferenceID != nil && o.ReferenceID != *f.ReferenceID {
		return false
	}
	if f.ReferencePrefix != nil && !strings.HasPrefix(o.ReferenceID, *f.ReferencePrefix) {
		return false
	}
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	return true
}

func (r *fakeOrderRepo) ByFilter(_ context.Context, f models.ExchangeOrderFilter, _ string, limit, offset int) ([]*models.ExchangeOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ExchangeOrder
	for _, o := range r.orders {
		if r.matches(o, f) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferenceID < out[j].ReferenceID })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeOrderRepo) Save(_ context.Context, o *models.ExchangeOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflictOnce != "" && o.ReferenceID == r.conflictOnce {
		r.conflictOnce = ""
		return gorm.ErrDuplicatedKey
	}
	if _, ok := r.orders[o.ReferenceID]; ok {
		return gorm.ErrDuplicatedKey
	}
	r.nextID++
	o.ID = r.nextID
	if o.UUID == uuid.Nil {
		o.UUID = uuid.New()
	}
	if o.Status == "" {
		o.Status = models.ExchangeOrderStatusPending
	}
	o.CreatedAt = utils.UTCNow()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	r.orders[o.ReferenceID] = &cp
	return nil
}

func (r *fakeOrderRepo) SaveBatch(ctx context.Context, orders []*models.ExchangeOrder) error {
	for _, o := range orders {
		if err := r.Save(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeOrderRepo) Count(ctx context.Context, f models.ExchangeOrderFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeOrderRepo) Exists(ctx context.Context, f models.ExchangeOrderFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r *fakeOrderRepo) ReferenceExists(_ context.Context, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.orders[ref]
	return ok, nil
}

func (r *fakeOrderRepo) ByReferenceID(_ context.Context, ref string) (*models.ExchangeOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[ref]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (r *fakeOrderRepo) ByUUID(_ context.Context, id string) (*models.ExchangeOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.UUID.String() == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeOrderRepo) UpdateStatus(_ context.Context, ref string, status models.ExchangeOrderStatus, operatorID *uint, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[ref]
	if !ok || o.Status != models.ExchangeOrderStatusPending {
		return false, nil
	}
	o.Status = status
	o.UpdatedAt = at
	if status == models.ExchangeOrderStatusSettled {
		o.SettledBy = operatorID
		o.SettledAt = &at
	}
	return true, nil
}

type fakeRateRepo struct {
	mu    sync.Mutex
	rates map[string]*models.ExchangeRate
	reads int
}

func newFakeRateRepo() *fakeRateRepo {
	return &fakeRateRepo{rates: make(map[string]*models.ExchangeRate)}
}

func (r *fakeRateRepo) put(send, receive string, rate, minAmount, maxAmount float64) {
	_ = r.Upsert(context.Background(), &models.ExchangeRate{
		SendCurrency:    send,
		ReceiveCurrency: receive,
		Rate:            rate,
		MinAmount:       minAmount,
		MaxAmount:       maxAmount,
		IsActive:        utils.ToPtr(true),
	})
}

func (r *fakeRateRepo) ByID(context.Context, uint) (*models.ExchangeRate, error) { return nil, nil }

func (r *fakeRateRepo) ByFilter(_ context.Context, f models.ExchangeRateFilter, _ string, _, _ int) ([]*models.ExchangeRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ExchangeRate
	for _, rt := range r.rates {
		if f.IsActive != nil && utils.IsTrue(rt.IsActive) != *f.IsActive {
			continue
		}
		cp := *rt
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SendCurrency+out[i].ReceiveCurrency < out[j].SendCurrency+out[j].ReceiveCurrency
	})
	return out, nil
}

func (r *fakeRateRepo) Save(ctx context.Context, rt *models.ExchangeRate) error {
	return r.Upsert(ctx, rt)
}

func (r *fakeRateRepo) SaveBatch(ctx context.Context, rates []*models.ExchangeRate) error {
	for _, rt := range rates {
		_ = r.Upsert(ctx, rt)
	}
	return nil
}

func (r *fakeRateRepo) Count(ctx context.Context, f models.ExchangeRateFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeRateRepo) Exists(ctx context.Context, f models.ExchangeRateFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r *fakeRateRepo) ByPair(_ context.Context, send, receive string) (*models.ExchangeRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	rt, ok := r.rates[send+"/"+receive]
	if !ok {
		return nil, nil
	}
	cp := *rt
	return &cp, nil
}

func (r *fakeRateRepo) ListActive(ctx context.Context) ([]*models.ExchangeRate, error) {
	return r.ByFilter(ctx, models.ExchangeRateFilter{IsActive: utils.ToPtr(true)}, "", 0, 0)
}

func (r *fakeRateRepo) Upsert(_ context.Context, rt *models.ExchangeRate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt.UpdatedAt.IsZero() {
		rt.UpdatedAt = utils.UTCNow()
	}
	cp := *rt
	r.rates[rt.SendCurrency+"/"+rt.ReceiveCurrency] = &cp
	return nil
}

func (r *fakeRateRepo) byPairReads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

type fakeOperatorRepo struct {
	mu        sync.Mutex
	operators map[string]*models.Operator
}

func newFakeOperatorRepo(ops ...*models.Operator) *fakeOperatorRepo {
	r := &fakeOperatorRepo{operators: make(map[string]*models.Operator)}
	for _, op := range ops {
		r.operators[op.Username] = op
	}
	return r
}

func (r *fakeOperatorRepo) ByID(_ context.Context, id uint) (*models.Operator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range r.operators {
		if op.ID == id {
			cp := *op
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeOperatorRepo) ByFilter(context.Context, models.OperatorFilter, string, int, int) ([]*models.Operator, error) {
	return nil, nil
}

func (r *fakeOperatorRepo) Save(_ context.Context, op *models.Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operators[op.Username] = op
	return nil
}

func (r *fakeOperatorRepo) SaveBatch(context.Context, []*models.Operator) error { return nil }

func (r *fakeOperatorRepo) Count(context.Context, models.OperatorFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.operators)), nil
}

func (r *fakeOperatorRepo) Exists(ctx context.Context, f models.OperatorFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r *fakeOperatorRepo) ByUUID(_ context.Context, id string) (*models.Operator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range r.operators {
		if op.UUID.String() == id {
			cp := *op
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeOperatorRepo) ByUsername(_ context.Context, username string) (*models.Operator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.operators[username]
	if !ok {
		return nil, nil
	}
	cp := *op
	return &cp, nil
}

func (r *fakeOperatorRepo) UpdateLastLogin(_ context.Context, id uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range r.operators {
		if op.ID == id {
			op.LastLoginAt = &at
		}
	}
	return nil
}
