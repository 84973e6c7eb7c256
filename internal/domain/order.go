// Package domain contains core business types and interfaces.
//
// This file defines the paid-order history that entitlement is derived from.
// Store adapters normalize their rows into PaidOrder at the gateway boundary,
// so nothing above the gateway sees a store-specific shape.
package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// OrderStatus is the lifecycle state of an order.
// Transitions are pending -> paid or pending -> failed, exactly once.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusFailed  OrderStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed
}

// PaymentMethod identifies the provider an order was paid through.
type PaymentMethod string

const (
	PaymentMethodWeChat PaymentMethod = "wechat"
	PaymentMethodAlipay PaymentMethod = "alipay"
	PaymentMethodPayPal PaymentMethod = "paypal"
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodOther  PaymentMethod = "other"
)

// ParsePaymentMethod maps stored values to a PaymentMethod, defaulting to other.
func ParsePaymentMethod(s string) PaymentMethod {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case PaymentMethodWeChat, PaymentMethodAlipay, PaymentMethodPayPal, PaymentMethodStripe:
		return m
	case "wechatpay", "wxpay":
		return PaymentMethodWeChat
	}
	return PaymentMethodOther
}

// DefaultRegion is the store a provider's orders normally live in.
func (m PaymentMethod) DefaultRegion() Region {
	switch m {
	case PaymentMethodWeChat, PaymentMethodAlipay:
		return RegionDomestic
	}
	return RegionGlobal
}

// PaidOrder is the normalized view of an order row.
//
// PlanDescription is the direct free-text column. ProviderResponse holds the
// provider-response blob when the store keeps one; it may be a JSON object or
// a JSON string containing a serialized object.
type PaidOrder struct {
	OrderNo          string
	UserID           string
	PaymentMethod    PaymentMethod
	Status           OrderStatus
	PaidAt           *time.Time
	UpdatedAt        *time.Time
	CreatedAt        *time.Time
	PlanDescription  string
	ProviderResponse json.RawMessage
}

// EffectiveTime returns the best-available payment time: PaidAt, then
// UpdatedAt, then CreatedAt. ok is false when the order has none of them.
func (o PaidOrder) EffectiveTime() (t time.Time, ok bool) {
	switch {
	case o.PaidAt != nil && !o.PaidAt.IsZero():
		return *o.PaidAt, true
	case o.UpdatedAt != nil && !o.UpdatedAt.IsZero():
		return *o.UpdatedAt, true
	case o.CreatedAt != nil && !o.CreatedAt.IsZero():
		return *o.CreatedAt, true
	}
	return time.Time{}, false
}

// SortOrders sorts orders ascending by (effective time, order number).
// Orders without any timestamp sort last; the calculator skips them.
func SortOrders(orders []PaidOrder) {
	sort.SliceStable(orders, func(i, j int) bool {
		ti, iok := orders[i].EffectiveTime()
		tj, jok := orders[j].EffectiveTime()
		if iok != jok {
			return iok
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return orders[i].OrderNo < orders[j].OrderNo
	})
}
