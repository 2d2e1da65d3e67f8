package auth

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleSupplier Role = "supplier"
	RoleBuyer    Role = "buyer"
	RoleCarrier  Role = "carrier"
	RoleAdmin    Role = "admin"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	TenantID     string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	// PartyID links customer and supplier users to their party row.
	PartyID   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Principal is the verified identity attached to a request.
type Principal struct {
	UserID   string
	TenantID string
	Role     Role
	PartyID  string
}

// CustomerID returns the party id when the principal acts as a customer.
func (p Principal) CustomerID() string {
	if p.Role == RoleCustomer {
		return p.PartyID
	}
	return ""
}

// SupplierID returns the party id when the principal acts as a supplier.
func (p Principal) SupplierID() string {
	if p.Role == RoleSupplier {
		return p.PartyID
	}
	return ""
}

// Internal reports whether the principal acts for the tenant itself.
func (p Principal) Internal() bool {
	return p.Role == RoleBuyer || p.Role == RoleAdmin
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	TenantID string
	Email    string
	Password string
	FullName string
	Role     Role
	PartyID  string
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
