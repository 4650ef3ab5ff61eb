package querycache

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind names a cached entity collection or aggregate.
type Kind string

const (
	KindPatients         Kind = "patients"
	KindInvoices         Kind = "invoices"
	KindPayments         Kind = "payments"
	KindWorkflows        Kind = "consultation-workflows"
	KindWorkflowStats    Kind = "workflow:stats"
	KindAppointments     Kind = "appointments"
	KindSchedules        Kind = "staff-schedules"
	KindInventory        Kind = "inventory"
	KindRecords          Kind = "medical-records"
	KindVitals           Kind = "vital-signs"
	KindDashboard        Kind = "dashboard:stats"
	KindBillingStats     Kind = "billing:stats"
	KindInventoryStats   Kind = "inventory:stats"
	KindAppointmentStats Kind = "appointment:stats"
	KindStaffPerformance Kind = "staff:performance"
)

// Financial data goes stale after two minutes, slower-changing data after five.
const (
	FinancialStaleTime = 2 * time.Minute
	StandardStaleTime  = 5 * time.Minute
)

// DefaultStaleTimes returns the stale window for every known kind.
func DefaultStaleTimes() map[Kind]time.Duration {
	return map[Kind]time.Duration{
		KindInvoices:         FinancialStaleTime,
		KindPayments:         FinancialStaleTime,
		KindBillingStats:     FinancialStaleTime,
		KindDashboard:        FinancialStaleTime,
		KindWorkflows:        FinancialStaleTime,
		KindWorkflowStats:    FinancialStaleTime,
		KindPatients:         StandardStaleTime,
		KindSchedules:        StandardStaleTime,
		KindInventory:        StandardStaleTime,
		KindInventoryStats:   StandardStaleTime,
		KindAppointments:     StandardStaleTime,
		KindAppointmentStats: StandardStaleTime,
		KindRecords:          StandardStaleTime,
		KindVitals:           StandardStaleTime,
		KindStaffPerformance: StandardStaleTime,
	}
}

// ParseKind accepts only kinds the cache knows about.
func ParseKind(s string) (Kind, error) {
	kind := Kind(s)
	if _, ok := DefaultStaleTimes()[kind]; !ok {
		return "", fmt.Errorf("unknown cache kind %q", s)
	}
	return kind, nil
}

// Key identifies a cache entry: an entity kind plus canonical filter params.
// Keys are comparable and can be used as map keys.
type Key struct {
	Kind   Kind
	Params string
}

// NewKey builds a key with params sorted so equivalent filters share an entry.
// Empty params are dropped.
func NewKey(kind Kind, params ...string) Key {
	clean := make([]string, 0, len(params))
	for _, p := range params {
		if p != "" {
			clean = append(clean, p)
		}
	}
	sort.Strings(clean)
	return Key{Kind: kind, Params: strings.Join(clean, "&")}
}

// KindKey matches every entry of a kind when used for invalidation.
func KindKey(kind Kind) Key {
	return Key{Kind: kind}
}

func (k Key) String() string {
	if k.Params == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + "?" + k.Params
}

// Matches reports whether an invalidation for k covers other. A key without
// params covers the whole kind.
func (k Key) Matches(other Key) bool {
	if k.Kind != other.Kind {
		return false
	}
	return k.Params == "" || k.Params == other.Params
}

// ParseKey is the inverse of String.
func ParseKey(s string) Key {
	kind, params, _ := strings.Cut(s, "?")
	return Key{Kind: Kind(kind), Params: params}
}
