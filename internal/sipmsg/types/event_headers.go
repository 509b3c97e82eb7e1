package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Event is an Event header (RFC 3265/6665).
// Format: event-type *(SEMI event-param)
// Examples:
//   - Event: refer;id=93809824
//   - Event: presence
//   - Event: dialog;call-id=12345@example.com
type Event struct {
	EventType  string            // Event type (refer, presence, dialog, etc.)
	ID         string            // Optional id parameter
	Parameters map[string]string // Additional parameters
}

// NewEvent creates a new Event header.
func NewEvent(eventType string) *Event {
	return &Event{
		EventType:  eventType,
		Parameters: make(map[string]string),
	}
}

// ParseEvent parses a string into an Event header.
func ParseEvent(value string) (*Event, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty Event value")
	}

	event := &Event{
		Parameters: make(map[string]string),
	}

	// Split into event type and parameters.
	parts := strings.Split(value, ";")
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid Event format")
	}

	// The first part is the event type.
	event.EventType = strings.TrimSpace(parts[0])
	if event.EventType == "" {
		return nil, fmt.Errorf("empty event type")
	}

	// Parse parameters.
	for i := 1; i < len(parts); i++ {
		param := strings.TrimSpace(parts[i])
		if param == "" {
			continue
		}

		paramParts := strings.SplitN(param, "=", 2)
		if len(paramParts) == 2 {
			name := strings.TrimSpace(paramParts[0])
			value := strings.TrimSpace(paramParts[1])

			// id gets special handling.
			if name == "id" {
				event.ID = value
			} else {
				event.Parameters[name] = value
			}
		} else {
			// A valueless parameter.
			event.Parameters[paramParts[0]] = ""
		}
	}

	return event, nil
}

// String returns the Event header's wire representation.
func (e *Event) String() string {
	var sb strings.Builder

	sb.WriteString(e.EventType)

	// Append id, if set.
	if e.ID != "" {
		sb.WriteString(";id=")
		sb.WriteString(e.ID)
	}

	// Append the remaining parameters.
	for name, value := range e.Parameters {
		sb.WriteString(";")
		sb.WriteString(name)
		if value != "" {
			sb.WriteString("=")
			sb.WriteString(value)
		}
	}

	return sb.String()
}

// SubscriptionState is a Subscription-State header (RFC 3265/6665).
// Format: substate-value *(SEMI subexp-params)
// Examples:
//   - Subscription-State: active;expires=3600
//   - Subscription-State: terminated;reason=noresource
//   - Subscription-State: pending;expires=600;retry-after=120
type SubscriptionState struct {
	State      string            // Subscription state (active, pending, terminated)
	Expires    int               // Expiry in seconds (for active and pending)
	Reason     string            // Termination reason (for terminated)
	RetryAfter int               // Retry delay in seconds
	Parameters map[string]string // Additional parameters
}

// Predefined subscription states.
const (
	SubscriptionStateActive     = "active"
	SubscriptionStatePending    = "pending"
	SubscriptionStateTerminated = "terminated"
)

// Predefined subscription termination reasons.
const (
	SubscriptionReasonDeactivated = "deactivated"
	SubscriptionReasonProbation   = "probation"
	SubscriptionReasonRejected    = "rejected"
	SubscriptionReasonTimeout     = "timeout"
	SubscriptionReasonGiveup      = "giveup"
	SubscriptionReasonNoresource  = "noresource"
	SubscriptionReasonInvariant   = "invariant"
)

// NewSubscriptionState creates a new Subscription-State header.
func NewSubscriptionState(state string) *SubscriptionState {
	return &SubscriptionState{
		State:      state,
		Parameters: make(map[string]string),
	}
}

// ParseSubscriptionState parses a string into a Subscription-State header.
func ParseSubscriptionState(value string) (*SubscriptionState, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty Subscription-State value")
	}

	subState := &SubscriptionState{
		Parameters: make(map[string]string),
	}

	// Split into state and parameters.
	parts := strings.Split(value, ";")
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid Subscription-State format")
	}

	// The first part is the state.
	subState.State = strings.TrimSpace(parts[0])
	if subState.State == "" {
		return nil, fmt.Errorf("empty subscription state")
	}

	// Validate the state.
	switch subState.State {
	case SubscriptionStateActive, SubscriptionStatePending, SubscriptionStateTerminated:
		// Valid states.
	default:
		return nil, fmt.Errorf("invalid subscription state: %s", subState.State)
	}

	// Parse parameters.
	for i := 1; i < len(parts); i++ {
		param := strings.TrimSpace(parts[i])
		if param == "" {
			continue
		}

		paramParts := strings.SplitN(param, "=", 2)
		if len(paramParts) != 2 {
			// A valueless parameter.
			subState.Parameters[paramParts[0]] = ""
			continue
		}

		name := strings.TrimSpace(paramParts[0])
		value := strings.TrimSpace(paramParts[1])

		switch name {
		case "expires":
			expires, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid expires value: %s", value)
			}
			if expires < 0 {
				return nil, fmt.Errorf("negative expires value: %d", expires)
			}
			subState.Expires = expires

		case "reason":
			subState.Reason = value

		case "retry-after":
			retryAfter, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid retry-after value: %s", value)
			}
			if retryAfter < 0 {
				return nil, fmt.Errorf("negative retry-after value: %d", retryAfter)
			}
			subState.RetryAfter = retryAfter

		default:
			subState.Parameters[name] = value
		}
	}

	// Validate parameters against the state.
	switch subState.State {
	case SubscriptionStateActive, SubscriptionStatePending:
		// active and pending require expires.
		if subState.Expires == 0 && subState.Parameters["expires"] == "" {
			return nil, fmt.Errorf("missing expires parameter for %s state", subState.State)
		}
	case SubscriptionStateTerminated:
		// reason is recommended for terminated, but RFC does not require it.
	}

	return subState, nil
}

// String returns the Subscription-State's wire representation.
func (s *SubscriptionState) String() string {
	var sb strings.Builder

	sb.WriteString(s.State)

	// Append expires, if set.
	if s.Expires > 0 {
		sb.WriteString(";expires=")
		sb.WriteString(strconv.Itoa(s.Expires))
	}

	// Append reason, if set.
	if s.Reason != "" {
		sb.WriteString(";reason=")
		sb.WriteString(s.Reason)
	}

	// Append retry-after, if set.
	if s.RetryAfter > 0 {
		sb.WriteString(";retry-after=")
		sb.WriteString(strconv.Itoa(s.RetryAfter))
	}

	// Append the remaining parameters.
	for name, value := range s.Parameters {
		sb.WriteString(";")
		sb.WriteString(name)
		if value != "" {
			sb.WriteString("=")
			sb.WriteString(value)
		}
	}

	return sb.String()
}

// IsActive reports whether the subscription is active.
func (s *SubscriptionState) IsActive() bool {
	return s.State == SubscriptionStateActive
}

// IsPending reports whether the subscription is pending.
func (s *SubscriptionState) IsPending() bool {
	return s.State == SubscriptionStatePending
}

// IsTerminated reports whether the subscription has terminated.
func (s *SubscriptionState) IsTerminated() bool {
	return s.State == SubscriptionStateTerminated
}

// normalizeEventHeaderName normalizes header names for Event-family headers.
func normalizeEventHeaderName(name string) string {
	switch strings.ToLower(name) {
	case "event":
		return HeaderEvent
	case "subscription-state":
		return HeaderSubscriptionState
	case "allow-events":
		return HeaderAllowEvents
	default:
		// Fall back to standard normalization for other headers:
		// title-case each hyphen-separated part.
		parts := strings.Split(name, "-")
		for i, part := range parts {
			if len(part) > 0 {
				parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
			}
		}
		return strings.Join(parts, "-")
	}
}
