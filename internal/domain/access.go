package domain

// CanAccess reports whether the identity may read or write the conversation:
// staff may access every conversation, customers only their own.
func CanAccess(id Identity, conv *Conversation) bool {
	if conv == nil {
		return false
	}
	if id.IsStaff() {
		return true
	}
	return conv.CustomerID == id.ID
}

// CanClose reports whether the identity may close conversations.
func CanClose(id Identity) bool {
	return id.IsStaff()
}

// CanCreateFor reports whether the identity may open a conversation on
// behalf of the given customer id.
func CanCreateFor(id Identity, customerID int64) bool {
	if id.IsStaff() {
		return true
	}
	return id.ID == customerID
}
