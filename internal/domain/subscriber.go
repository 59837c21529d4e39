package domain

import (
	"fmt"
	"strings"
)

// SubscriptionStatus enumerates the states a subscription can be in. The
// same values are used for per-recipient delivery outcomes: a delivered
// message is recorded as StatusSubscribed.
type SubscriptionStatus int

const (
	StatusSubscribed   SubscriptionStatus = 1
	StatusUnsubscribed SubscriptionStatus = 2
	StatusBounced      SubscriptionStatus = 3
	StatusComplained   SubscriptionStatus = 4
)

func (s SubscriptionStatus) String() string {
	switch s {
	case StatusSubscribed:
		return "subscribed"
	case StatusUnsubscribed:
		return "unsubscribed"
	case StatusBounced:
		return "bounced"
	case StatusComplained:
		return "complained"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// List is a mailing list attached to a campaign.
type List struct {
	ID                      int64  `json:"id" db:"id"`
	CID                     string `json:"cid" db:"cid"`
	Name                    string `json:"name" db:"name"`
	ListUnsubscribeDisabled bool   `json:"listunsubscribe_disabled" db:"listunsubscribe_disabled"`
	// ToName is a merge-tag template for the recipient display name.
	ToName string `json:"to_name" db:"to_name"`
}

// FieldType is the kind of a custom subscriber field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldWebsite  FieldType = "website"
	FieldLongText FieldType = "longtext"
	FieldDate     FieldType = "date"
	FieldBirthday FieldType = "birthday"
	FieldJSON     FieldType = "json"
	FieldOption   FieldType = "option"
	// FieldGPG holds an armored public key used to encrypt messages.
	FieldGPG FieldType = "gpg"
)

// Field is one custom subscriber field of a list.
type Field struct {
	ID     int64     `json:"id" db:"id"`
	Key    string    `json:"key" db:"key"`
	Name   string    `json:"name" db:"name"`
	Type   FieldType `json:"type" db:"type"`
	Column string    `json:"column" db:"column"`
	// OrderList is the explicit declaration order of the field.
	OrderList int `json:"order_list" db:"order_list"`
}

// Subscriber is a single subscription row of a list. It is fetched per
// recipient at send time and never cached.
type Subscriber struct {
	ID     int64              `json:"id" db:"id"`
	CID    string             `json:"cid" db:"cid"`
	Email  string             `json:"email" db:"email"`
	Status SubscriptionStatus `json:"status" db:"status"`
	// Values holds custom field values keyed by column name.
	Values map[string]any `json:"values"`
}

// MergeTags builds the merge-tag map of a subscriber. Built-in tags are
// EMAIL and SUBSCRIPTION_ID; every custom field contributes its key.
func MergeTags(fields []Field, sub *Subscriber) map[string]any {
	tags := map[string]any{
		"EMAIL":           sub.Email,
		"SUBSCRIPTION_ID": sub.CID,
	}
	for _, f := range fields {
		v, ok := sub.Values[f.Column]
		if !ok || v == nil {
			tags[f.Key] = ""
			continue
		}
		tags[f.Key] = v
	}
	return tags
}

// EncryptionKeys returns the trimmed, non-empty values of every gpg field,
// in field order.
func EncryptionKeys(fields []Field, tags map[string]any) []string {
	var keys []string
	for _, f := range fields {
		if f.Type != FieldGPG {
			continue
		}
		s, _ := tags[f.Key].(string)
		if s = strings.TrimSpace(s); s != "" {
			keys = append(keys, s)
		}
	}
	return keys
}

// MessageContext bundles the entities a message is personalized against.
type MessageContext struct {
	Campaign   *Campaign
	List       *List
	Subscriber *Subscriber
	MergeTags  map[string]any
}
