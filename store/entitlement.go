package store

// UserType classifies an authenticated caller. The session layer resolves it;
// the store only maps it to an entitlement.
type UserType string

const (
	UserTypeGuest      UserType = "guest"
	UserTypeRegistered UserType = "registered"
)

// Entitlement is the static per-user-type quota table. There is no paid tier
// yet; this is the seam where one would go.
type Entitlement struct {
	MaxMessagesPerDay int
}

var entitlements = map[UserType]Entitlement{
	UserTypeGuest:      {MaxMessagesPerDay: 400},
	UserTypeRegistered: {MaxMessagesPerDay: 2000},
}

// EntitlementFor returns the entitlement for a user type. Unknown types get
// the guest entitlement.
func EntitlementFor(t UserType) Entitlement {
	if e, ok := entitlements[t]; ok {
		return e
	}
	return entitlements[UserTypeGuest]
}
