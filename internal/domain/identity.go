package domain

import (
	"strconv"
	"strings"
)

// Role is the free-form role claim carried by a bearer token.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleStaff    Role = "STAFF"
	RoleCustomer Role = "CUSTOMER"
)

// IsStaff is the single staff classification used across the service.
// ADMIN and STAFF (any casing) are staff; every other value is a customer.
func (r Role) IsStaff() bool {
	switch Role(strings.ToUpper(strings.TrimSpace(string(r)))) {
	case RoleAdmin, RoleStaff:
		return true
	default:
		return false
	}
}

// Identity is the authenticated caller resolved from a token.
type Identity struct {
	ID    int64
	Email string
	Name  string
	Role  Role
}

// IsStaff reports whether the identity belongs to hotel staff.
func (i Identity) IsStaff() bool {
	return i.Role.IsStaff()
}

// SenderType classifies messages written by this identity.
func (i Identity) SenderType() SenderType {
	if i.IsStaff() {
		return SenderTypeAdmin
	}
	return SenderTypeCustomer
}

// Key uniquely identifies the identity across both role classes, so that a
// customer and a staff member sharing a numeric id never collide.
func (i Identity) Key() string {
	return string(i.SenderType()) + ":" + strconv.FormatInt(i.ID, 10)
}
