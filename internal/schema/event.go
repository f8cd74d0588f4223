package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// EventType is the category of a canonical event. It is derived from the
// adapter that produced the event, never from free text.
type EventType string

const (
	TypeMalware       EventType = "malware"
	TypeVulnerability EventType = "vulnerability"
	TypeBehavioral    EventType = "behavioral"
	TypeIntrusion     EventType = "intrusion"
	TypeFirewall      EventType = "firewall"
	TypeSystem        EventType = "system"
	TypeSecurity      EventType = "security"
)

// Severity is the normalized severity scale shared by every service.
type Severity string

const (
	SevCritical Severity = "critical"
	SevHigh     Severity = "high"
	SevMedium   Severity = "medium"
	SevLow      Severity = "low"
	SevInfo     Severity = "info"
)

var (
	ErrInvalidType     = errors.New("invalid event type")
	ErrInvalidSeverity = errors.New("invalid event severity")
)

var eventTypes = map[EventType]bool{
	TypeMalware: true, TypeVulnerability: true, TypeBehavioral: true,
	TypeIntrusion: true, TypeFirewall: true, TypeSystem: true, TypeSecurity: true,
}

// severityRank orders severities from most to least severe.
var severityRank = map[Severity]int{
	SevCritical: 0,
	SevHigh:     1,
	SevMedium:   2,
	SevLow:      3,
	SevInfo:     4,
}

// Severities lists the vocabulary from most to least severe.
func Severities() []Severity {
	return []Severity{SevCritical, SevHigh, SevMedium, SevLow, SevInfo}
}

func (t EventType) Valid() bool { return eventTypes[t] }

func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns 0 for critical up to 4 for info. Unknown values rank last.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// AtLeast reports whether s is as severe as or more severe than other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() <= other.Rank()
}

// Event is the normalized security event every service adapter emits.
type Event struct {
	Timestamp   time.Time              `json:"timestamp"`
	Type        EventType              `json:"type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Location    string                 `json:"location,omitempty"`
	User        string                 `json:"user,omitempty"`
	Service     string                 `json:"service"`
	ScanID      string                 `json:"scan_id,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// NewEvent builds an event and rejects anything outside the fixed
// type and severity vocabularies.
func NewEvent(e Event) (Event, error) {
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	e.Description = strings.TrimSpace(e.Description)
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	return e, nil
}

// MustEvent is NewEvent for callers that pass compile-time constants.
func MustEvent(e Event) Event {
	ev, err := NewEvent(e)
	if err != nil {
		panic(err)
	}
	return ev
}

func (e Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, e.Type)
	}
	if !e.Severity.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, e.Severity)
	}
	if e.Service == "" {
		return errors.New("event service cannot be empty")
	}
	return nil
}

// Equal compares two events by value.
func (e Event) Equal(o Event) bool {
	if !e.Timestamp.Equal(o.Timestamp) || e.Type != o.Type || e.Severity != o.Severity ||
		e.Description != o.Description || e.Location != o.Location || e.User != o.User ||
		e.Service != o.Service || e.ScanID != o.ScanID {
		return false
	}
	if len(e.Details) == 0 && len(o.Details) == 0 {
		return true
	}
	return reflect.DeepEqual(e.Details, o.Details)
}

// Key identifies an event for duplicate suppression.
func (e Event) Key() string {
	return strings.Join([]string{
		e.Service,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Severity),
		e.Description,
		e.Location,
	}, "|")
}
