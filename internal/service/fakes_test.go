package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"blindbox-service/internal/models"
	"blindbox-service/internal/redisclient"
	"blindbox-service/internal/store"
)

type memState struct {
	users     map[int64]models.User
	boxes     map[int64]models.Box
	items     map[int64]models.BoxItem
	orders    []models.Order
	processed map[string]string
	nextID    int64
}

func (st *memState) clone() *memState {
	c := &memState{
		users:     make(map[int64]models.User, len(st.users)),
		boxes:     make(map[int64]models.Box, len(st.boxes)),
		items:     make(map[int64]models.BoxItem, len(st.items)),
		orders:    append([]models.Order(nil), st.orders...),
		processed: make(map[string]string, len(st.processed)),
		nextID:    st.nextID,
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.boxes {
		c.boxes[k] = v
	}
	for k, v := range st.items {
		c.items[k] = v
	}
	for k, v := range st.processed {
		c.processed[k] = v
	}
	return c
}

// memRepo implements store.Repository over memState with the same guarded
// update semantics as the SQL queries. failOn makes a named method fail.
type memRepo struct {
	st     *memState
	failOn map[string]error
}

func (r *memRepo) fail(op string) error {
	if r.failOn == nil {
		return nil
	}
	return r.failOn[op]
}

func (r *memRepo) id() int64 {
	r.st.nextID++
	return r.st.nextID
}

func (r *memRepo) CreateUser(_ context.Context, u *models.User) error {
	if err := r.fail("CreateUser"); err != nil {
		return err
	}
	for _, existing := range r.st.users {
		if existing.Username == u.Username {
			return store.ErrConflict
		}
	}
	u.ID = r.id()
	u.CreatedAt, u.UpdatedAt = time.Now(), time.Now()
	r.st.users[u.ID] = *u
	return nil
}

func (r *memRepo) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	if err := r.fail("GetUserByID"); err != nil {
		return nil, err
	}
	u, ok := r.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (r *memRepo) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	if err := r.fail("GetUserByUsername"); err != nil {
		return nil, err
	}
	for _, u := range r.st.users {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) GetUserBalance(_ context.Context, id int64) (int64, error) {
	if err := r.fail("GetUserBalance"); err != nil {
		return 0, err
	}
	u, ok := r.st.users[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	return u.Balance, nil
}

func (r *memRepo) DebitUser(_ context.Context, id, amount int64) (bool, error) {
	if err := r.fail("DebitUser"); err != nil {
		return false, err
	}
	u, ok := r.st.users[id]
	if !ok || u.Balance < amount {
		return false, nil
	}
	u.Balance -= amount
	r.st.users[id] = u
	return true, nil
}

func (r *memRepo) CreditUser(_ context.Context, id, amount int64) (int64, error) {
	if err := r.fail("CreditUser"); err != nil {
		return 0, err
	}
	u, ok := r.st.users[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	u.Balance += amount
	r.st.users[id] = u
	return u.Balance, nil
}

func (r *memRepo) CreateBox(_ context.Context, b *models.Box) error {
	if err := r.fail("CreateBox"); err != nil {
		return err
	}
	b.ID = r.id()
	b.CreatedAt, b.UpdatedAt = time.Now(), time.Now()
	stored := *b
	stored.Items = nil
	r.st.boxes[b.ID] = stored
	return nil
}

func (r *memRepo) CreateBoxItem(_ context.Context, item *models.BoxItem) error {
	if err := r.fail("CreateBoxItem"); err != nil {
		return err
	}
	item.ID = r.id()
	r.st.items[item.ID] = *item
	return nil
}

func (r *memRepo) GetBox(_ context.Context, id int64) (*models.Box, error) {
	if err := r.fail("GetBox"); err != nil {
		return nil, err
	}
	b, ok := r.st.boxes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (r *memRepo) ListBoxes(_ context.Context, f models.BoxFilter) ([]models.Box, error) {
	if err := r.fail("ListBoxes"); err != nil {
		return nil, err
	}
	boxes := []models.Box{}
	for _, b := range r.st.boxes {
		if f.OwnerID != 0 && b.UserID != f.OwnerID {
			continue
		}
		if f.Keyword != "" && !strings.Contains(strings.ToLower(b.Name+" "+b.Description), strings.ToLower(f.Keyword)) {
			continue
		}
		boxes = append(boxes, b)
	}
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].ID > boxes[j].ID })
	if f.Offset >= len(boxes) {
		return []models.Box{}, nil
	}
	boxes = boxes[f.Offset:]
	if f.Limit < len(boxes) {
		boxes = boxes[:f.Limit]
	}
	return boxes, nil
}

func (r *memRepo) itemsOf(boxID int64, availableOnly bool) []models.BoxItem {
	items := []models.BoxItem{}
	for _, it := range r.st.items {
		if it.BoxID == boxID && (!availableOnly || it.Quantity > 0) {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (r *memRepo) ListBoxItems(_ context.Context, boxID int64) ([]models.BoxItem, error) {
	if err := r.fail("ListBoxItems"); err != nil {
		return nil, err
	}
	return r.itemsOf(boxID, false), nil
}

func (r *memRepo) ListAvailableItems(_ context.Context, boxID int64) ([]models.BoxItem, error) {
	if err := r.fail("ListAvailableItems"); err != nil {
		return nil, err
	}
	return r.itemsOf(boxID, true), nil
}

func (r *memRepo) DecrementItem(_ context.Context, itemID int64) (bool, error) {
	if err := r.fail("DecrementItem"); err != nil {
		return false, err
	}
	it, ok := r.st.items[itemID]
	if !ok || it.Quantity <= 0 {
		return false, nil
	}
	it.Quantity--
	r.st.items[itemID] = it
	return true, nil
}

func (r *memRepo) DecrementBox(_ context.Context, boxID int64) (int, bool, error) {
	if err := r.fail("DecrementBox"); err != nil {
		return 0, false, err
	}
	b, ok := r.st.boxes[boxID]
	if !ok || b.BoxNum <= 0 {
		return 0, false, nil
	}
	b.BoxNum--
	r.st.boxes[boxID] = b
	return b.BoxNum, true, nil
}

func (r *memRepo) DeleteBox(_ context.Context, id int64) error {
	if err := r.fail("DeleteBox"); err != nil {
		return err
	}
	if _, ok := r.st.boxes[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.st.boxes, id)
	for itemID, it := range r.st.items {
		if it.BoxID == id {
			delete(r.st.items, itemID)
		}
	}
	return nil
}

func (r *memRepo) CreateOrder(_ context.Context, o *models.Order) error {
	if err := r.fail("CreateOrder"); err != nil {
		return err
	}
	o.ID = r.id()
	o.CreatedAt = time.Now()
	r.st.orders = append(r.st.orders, *o)
	return nil
}

func (r *memRepo) filterOrders(keep func(models.Order) bool, page models.Page) []models.Order {
	out := []models.Order{}
	for i := len(r.st.orders) - 1; i >= 0; i-- {
		if keep(r.st.orders[i]) {
			out = append(out, r.st.orders[i])
		}
	}
	if page.Offset >= len(out) {
		return []models.Order{}
	}
	out = out[page.Offset:]
	if page.Limit < len(out) {
		out = out[:page.Limit]
	}
	return out
}

func (r *memRepo) ListOrdersByBuyer(_ context.Context, buyerID int64, page models.Page) ([]models.Order, error) {
	if err := r.fail("ListOrdersByBuyer"); err != nil {
		return nil, err
	}
	return r.filterOrders(func(o models.Order) bool { return o.BuyerID == buyerID }, page), nil
}

func (r *memRepo) ListOrdersBySeller(_ context.Context, sellerID int64, page models.Page) ([]models.Order, error) {
	if err := r.fail("ListOrdersBySeller"); err != nil {
		return nil, err
	}
	return r.filterOrders(func(o models.Order) bool { return o.SellerID == sellerID }, page), nil
}

func (r *memRepo) ListOrders(_ context.Context, page models.Page) ([]models.Order, error) {
	if err := r.fail("ListOrders"); err != nil {
		return nil, err
	}
	return r.filterOrders(func(models.Order) bool { return true }, page), nil
}

func (r *memRepo) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	_, ok := r.st.processed[eventID]
	return ok, nil
}

func (r *memRepo) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	r.st.processed[eventID] = eventType
	return nil
}

// memStorage serializes transactions and restores the snapshot taken at
// begin when the body fails, like a database at serializable isolation.
type memStorage struct {
	mu sync.Mutex
	*memRepo
	txCount int
}

func newMemStorage() *memStorage {
	return &memStorage{memRepo: &memRepo{st: &memState{
		users:     map[int64]models.User{},
		boxes:     map[int64]models.Box{},
		items:     map[int64]models.BoxItem{},
		processed: map[string]string{},
	}}}
}

func (m *memStorage) WithTx(ctx context.Context, fn func(store.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	snapshot := m.st.clone()
	if err := fn(m.memRepo); err != nil {
		m.memRepo.st = snapshot
		return err
	}
	return nil
}

// seed helpers

func (m *memStorage) addUser(name string, balance int64) models.User {
	u := models.User{Username: name, Role: models.RoleUser, Balance: balance}
	_ = m.CreateUser(context.Background(), &u)
	return u
}

func (m *memStorage) addBox(ownerID, price int64, boxNum int, items map[string]int) models.Box {
	b := models.Box{UserID: ownerID, Name: "box", Price: price, BoxNum: boxNum}
	_ = m.CreateBox(context.Background(), &b)
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		it := models.BoxItem{BoxID: b.ID, Name: name, Quantity: items[name]}
		_ = m.CreateBoxItem(context.Background(), &it)
	}
	return b
}

func (m *memStorage) balance(id int64) int64 { return m.st.users[id].Balance }

func (m *memStorage) itemByName(boxID int64, name string) (models.BoxItem, bool) {
	for _, it := range m.st.items {
		if it.BoxID == boxID && it.Name == name {
			return it, true
		}
	}
	return models.BoxItem{}, false
}

// memCache mirrors the Redis box cache, tombstones included. markErr makes
// both evictions and tombstones fail.
type memCache struct {
	mu      sync.Mutex
	boxes   map[int64]models.Box
	gone    map[int64]bool
	deleted []int64
	getErr  error
	markErr error
}

func newMemCache() *memCache {
	return &memCache{boxes: map[int64]models.Box{}, gone: map[int64]bool{}}
}

func (c *memCache) GetBox(_ context.Context, id int64) (*models.Box, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	if c.gone[id] {
		return nil, redisclient.ErrBoxGone
	}
	b, ok := c.boxes[id]
	if !ok {
		return nil, redisclient.ErrCacheMiss
	}
	return &b, nil
}

func (c *memCache) SetBox(_ context.Context, b *models.Box, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 || c.gone[b.ID] {
		return nil
	}
	c.boxes[b.ID] = *b
	return nil
}

func (c *memCache) DeleteBox(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markErr != nil {
		return c.markErr
	}
	delete(c.boxes, id)
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *memCache) MarkBoxGone(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markErr != nil {
		return c.markErr
	}
	delete(c.boxes, id)
	c.gone[id] = true
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *memCache) cached(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.boxes[id]
	return ok
}

type memDeduper struct {
	mu      sync.Mutex
	results map[string][]byte
	locks   map[string]bool
}

func newMemDeduper() *memDeduper {
	return &memDeduper{results: map[string][]byte{}, locks: map[string]bool{}}
}

func dedupeKey(buyerID int64, key string) string {
	b, _ := json.Marshal([]interface{}{buyerID, key})
	return string(b)
}

func (d *memDeduper) GetPurchaseResult(_ context.Context, buyerID int64, key string, dest interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, ok := d.results[dedupeKey(buyerID, key)]
	if !ok {
		return redisclient.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (d *memDeduper) SetPurchaseResult(_ context.Context, buyerID int64, key string, result interface{}, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	d.results[dedupeKey(buyerID, key)] = raw
	return nil
}

func (d *memDeduper) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locks[key] {
		return false, nil
	}
	d.locks[key] = true
	return true, nil
}

func (d *memDeduper) ReleaseLock(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.locks, key)
	return nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	events    []string
	purchased []*models.BoxPurchasedEvent
	err       error
}

func (p *recordingPublisher) record(t string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, t)
	return p.err
}

func (p *recordingPublisher) PublishBoxCreated(_ context.Context, e *models.BoxCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishBoxPurchased(_ context.Context, e *models.BoxPurchasedEvent) error {
	p.mu.Lock()
	p.purchased = append(p.purchased, e)
	p.mu.Unlock()
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishBoxSoldOut(_ context.Context, e *models.BoxSoldOutEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishBoxDeleted(_ context.Context, e *models.BoxDeletedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishBalanceRecharged(_ context.Context, e *models.BalanceRechargedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type memRevoker struct {
	revoked map[string]time.Duration
}

func (r *memRevoker) RevokeToken(_ context.Context, jti string, ttl time.Duration) error {
	if r.revoked == nil {
		r.revoked = map[string]time.Duration{}
	}
	r.revoked[jti] = ttl
	return nil
}
