package domain

import "strings"

// Role is the closed set of staff roles. Behaviour is decided by capability,
// never by comparing role strings at call sites.
type Role string

const (
	RoleCashier         Role = "kasir"
	RoleBackupCollector Role = "backup"
	RoleOwner           Role = "owner"
)

type Capability int

const (
	CapRecordTransaction Capability = iota + 1
	CapViewTransaction
	CapViewLoyalty
	CapCrossBranch
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleCashier: {
		CapRecordTransaction: true,
		CapViewTransaction:   true,
		CapViewLoyalty:       true,
	},
	RoleBackupCollector: {
		CapRecordTransaction: true,
		CapViewTransaction:   true,
		CapViewLoyalty:       true,
	},
	RoleOwner: {
		CapRecordTransaction: true,
		CapViewTransaction:   true,
		CapViewLoyalty:       true,
		CapCrossBranch:       true,
	},
}

func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := roleCapabilities[role]; !ok {
		return "", false
	}
	return role, true
}

func (r Role) Can(capability Capability) bool {
	return roleCapabilities[r][capability]
}
