package models

import "time"

// User is an account holder. Balance is kept in minor currency units.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	Balance      int64     `db:"balance" json:"balance"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Box is a lot listed by its owner with a fixed price and a finite number of
// draws. A box whose BoxNum reaches zero is deleted.
type Box struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Avatar      string    `db:"avatar" json:"avatar"`
	Price       int64     `db:"price" json:"price"`
	BoxNum      int       `db:"box_num" json:"box_num"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
	Items       []BoxItem `db:"-" json:"items,omitempty"`
}

// BoxItem is one prize type inside a box.
type BoxItem struct {
	ID       int64  `db:"id" json:"id"`
	BoxID    int64  `db:"box_id" json:"box_id"`
	Name     string `db:"name" json:"name"`
	Quantity int    `db:"quantity" json:"quantity"`
}

// Order records one completed purchase. Box and item names are copied so the
// record outlives the box.
type Order struct {
	ID        int64     `db:"id" json:"id"`
	BoxID     int64     `db:"box_id" json:"box_id"`
	SellerID  int64     `db:"seller_id" json:"seller_id"`
	BuyerID   int64     `db:"buyer_id" json:"buyer_id"`
	BoxName   string    `db:"box_name" json:"box_name"`
	ItemName  string    `db:"item_name" json:"item_name"`
	Price     int64     `db:"price" json:"price"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// BoxFilter narrows a box listing.
type BoxFilter struct {
	Keyword string
	OwnerID int64
	Limit   int
	Offset  int
}

// Page is a limit/offset window over a listing.
type Page struct {
	Limit  int
	Offset int
}

// Roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// RoleAtLeast checks if role meets or exceeds the minimum required role.
func RoleAtLeast(role, minimum string) bool {
	levels := map[string]int{
		RoleAdmin: 2,
		RoleUser:  1,
	}
	return levels[role] >= levels[minimum] && levels[role] > 0
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
