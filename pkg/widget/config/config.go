package config

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// Position selects the corner a widget container is pinned to.
type Position string

const (
	PositionBottomRight Position = "bottom-right"
	PositionBottomLeft  Position = "bottom-left"
)

// ParsePosition maps a marker attribute value onto a Position. Anything
// other than bottom-left yields the default.
func ParsePosition(s string) Position {
	if Position(s) == PositionBottomLeft {
		return PositionBottomLeft
	}
	return PositionBottomRight
}

const (
	DefaultPrimaryColor    = "#007bff"
	DefaultBackgroundColor = "#ffffff"
	DefaultTextColor       = "#333333"
)

// Theme is the color triple used by the chat session component.
type Theme struct {
	PrimaryColor    string `json:"primary_color,omitempty"`
	BackgroundColor string `json:"background_color,omitempty"`
	TextColor       string `json:"text_color,omitempty"`
}

// DefaultTheme returns the built-in colors.
func DefaultTheme() Theme {
	return Theme{
		PrimaryColor:    DefaultPrimaryColor,
		BackgroundColor: DefaultBackgroundColor,
		TextColor:       DefaultTextColor,
	}
}

// OnDefaults layers the non-empty fields of t onto the built-in defaults.
// The result never depends on any theme applied before t.
func (t *Theme) OnDefaults() Theme {
	ret := DefaultTheme()
	if t == nil {
		return ret
	}
	if t.PrimaryColor != "" {
		ret.PrimaryColor = t.PrimaryColor
	}
	if t.BackgroundColor != "" {
		ret.BackgroundColor = t.BackgroundColor
	}
	if t.TextColor != "" {
		ret.TextColor = t.TextColor
	}
	return ret
}

// Wire keys of the well-known top-level fields.
const (
	KeyClientID       = "clientId"
	KeyClientIDSnake  = "client_id"
	KeyTheme          = "theme"
	KeyWelcomeMessage = "welcome_message"
	KeyPosition       = "position"
	KeyEnabled        = "enabled"
)

var ErrMalformed = errors.New("malformed config payload")

// WidgetConfig is the effective configuration of one widget instance.
type WidgetConfig struct {
	ClientID       string
	Theme          Theme
	WelcomeMessage string
	Position       Position
	// Enabled is nil when no source ever set the field.
	Enabled *bool
	// Extra holds every top-level key that has no typed field.
	Extra map[string]json.RawMessage
}

// Renderable reports whether the render gate is open. An absent field
// keeps it open.
func (c WidgetConfig) Renderable() bool {
	return c.Enabled == nil || *c.Enabled
}

// ExtraKeys returns the sorted keys of Extra.
func (c WidgetConfig) ExtraKeys() []string {
	keys := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// payloadShape is used to type-check the well-known keys of an overlay.
type payloadShape struct {
	Theme          *Theme    `json:"theme"`
	WelcomeMessage *string   `json:"welcome_message"`
	Position       *Position `json:"position"`
}

// ParsePayload decodes an overlay payload into its top-level keys. The
// payload must be a JSON object and the well-known keys must carry the
// expected JSON types. enabled accepts any JSON value, see truthy.
func ParsePayload(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if fields == nil {
		return nil, errors.Wrap(ErrMalformed, "payload is not an object")
	}
	var shape payloadShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	return fields, nil
}

// resolve builds the typed view of a set of top-level keys. Fields were
// type-checked on the way in, so decoding errors are not expected here.
func resolve(clientID string, fields map[string]json.RawMessage) WidgetConfig {
	ret := WidgetConfig{
		ClientID: clientID,
		Theme:    DefaultTheme(),
		Position: PositionBottomRight,
		Extra:    map[string]json.RawMessage{},
	}
	for k, v := range fields {
		switch k {
		case KeyClientID, KeyClientIDSnake:
		case KeyTheme:
			var t *Theme
			if err := json.Unmarshal(v, &t); err == nil {
				ret.Theme = t.OnDefaults()
			}
		case KeyWelcomeMessage:
			var s *string
			if err := json.Unmarshal(v, &s); err == nil && s != nil {
				ret.WelcomeMessage = *s
			}
		case KeyPosition:
			var s *string
			if err := json.Unmarshal(v, &s); err == nil && s != nil {
				ret.Position = ParsePosition(*s)
			}
		case KeyEnabled:
			enabled := truthy(v)
			ret.Enabled = &enabled
		default:
			ret.Extra[k] = v
		}
	}
	return ret
}

// truthy reports whether a present enabled value opens the gate. false,
// null, any numeric zero and "" close it, everything else opens it.
func truthy(v json.RawMessage) bool {
	var x any
	if err := json.Unmarshal(v, &x); err != nil {
		return true
	}
	switch x := x.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

// Seed converts the fields known at discovery time into top-level keys.
func Seed(position Position) map[string]json.RawMessage {
	if position == "" {
		position = PositionBottomRight
	}
	raw, _ := json.Marshal(position)
	return map[string]json.RawMessage{KeyPosition: raw}
}
