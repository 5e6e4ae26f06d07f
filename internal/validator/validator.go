// Package validator performs the structural checks the kernel runs before
// any handler touches the registry. Failures are collected in a Bag keyed by
// the offending field ("action", "transaction_id" or "params").
package validator

import (
	"github.com/google/uuid"
)

// Field keys used in a Bag.
const (
	FieldAction        = "action"
	FieldTransactionID = "transaction_id"
	FieldParams        = "params"
)

// Bag maps a field key to a human readable reason.
type Bag map[string]string

// Passed reports whether no failure was recorded.
func (b Bag) Passed() bool {
	return len(b) == 0
}

// Envelope checks the top-level request object. Checks stop at the first
// failure in this order: action presence, action type, transaction_id
// presence, transaction_id type, transaction_id format.
func Envelope(object map[string]any) Bag {
	action, ok := object[FieldAction]
	if !ok {
		return Bag{FieldAction: "action attribute must be present"}
	}
	if _, ok := action.(string); !ok {
		return Bag{FieldAction: "action attribute must be string"}
	}
	transactionID, ok := object[FieldTransactionID]
	if !ok {
		return Bag{FieldTransactionID: "transaction_id attribute must be present"}
	}
	id, ok := transactionID.(string)
	if !ok {
		return Bag{FieldTransactionID: "transaction_id attribute must be string"}
	}
	if !IsUUID(id) {
		return Bag{FieldTransactionID: "transaction_id attribute must be uuid"}
	}
	return nil
}

// Action returns the action of an object when it is a string.
func Action(object map[string]any) (string, bool) {
	action, ok := object[FieldAction].(string)
	return action, ok
}

// TransactionID returns the transaction id of an object when it is a
// well-formed UUID string. The id is returned in canonical hyphenated form.
func TransactionID(object map[string]any) (string, bool) {
	raw, ok := object[FieldTransactionID].(string)
	if !ok || !IsUUID(raw) {
		return "", false
	}
	return uuid.MustParse(raw).String(), true
}

// IsUUID accepts 32 hexadecimal digits, either bare or grouped 8-4-4-4-12
// with hyphens. Braced and urn forms are rejected.
func IsUUID(value string) bool {
	switch len(value) {
	case 32, 36:
	default:
		return false
	}
	_, err := uuid.Parse(value)
	return err == nil
}

// Unimplemented is the bag produced for an unknown action.
func Unimplemented() Bag {
	return Bag{FieldAction: "action attribute isn't implemented"}
}
