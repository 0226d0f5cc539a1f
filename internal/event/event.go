// Package event defines the tagged event payloads synchronized between
// devices and the envelope that carries them.
package event

import "encoding/json"

// Type identifies an event's payload shape. Unrecognized type tags are
// preserved verbatim on the wire (forward compatibility) but are never
// projected into materialized state.
type Type string

const (
	TypeExtensionAdded      Type = "ExtensionAdded"
	TypeExtensionRemoved    Type = "ExtensionRemoved"
	TypeExtensionInstalled  Type = "ExtensionInstalled"
	TypeExtensionUninstalled Type = "ExtensionUninstalled"
	TypeContainerAdded      Type = "ContainerAdded"
	TypeContainerRemoved    Type = "ContainerRemoved"
	TypeContainerUpdated    Type = "ContainerUpdated"
	TypeHandlerSet          Type = "HandlerSet"
	TypeHandlerRemoved      Type = "HandlerRemoved"
	TypeSearchEngineAdded   Type = "SearchEngineAdded"
	TypeSearchEngineRemoved Type = "SearchEngineRemoved"
	TypeSearchEngineDefault Type = "SearchEngineDefault"
	TypePrefSet             Type = "PrefSet"
	TypePrefRemoved         Type = "PrefRemoved"
	TypeTabSent             Type = "TabSent"
	TypeTabReceived         Type = "TabReceived"
)

// Payload is implemented by every recognized event variant plus Unknown.
// Type returns the wire tag written into the envelope's {"type": ...} field.
type Payload interface {
	Type() Type
}

// Container colors and icons this implementation recognizes. Projection must reject
// any other value.
var (
	ContainerColors = []string{"blue", "turquoise", "green", "yellow", "orange", "red", "pink", "purple"}
	ContainerIcons  = []string{"fingerprint", "briefcase", "dollar", "cart", "vacation", "gift", "food", "fruit", "pet", "tree", "chill", "circle", "fence"}
)

type ExtensionAdded struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	URL  *string `json:"url,omitempty"`
}

func (ExtensionAdded) Type() Type { return TypeExtensionAdded }

type ExtensionRemoved struct {
	ID string `json:"id"`
}

func (ExtensionRemoved) Type() Type { return TypeExtensionRemoved }

// Source tags where an installed extension's archive came from.
type Source struct {
	Git   *GitSource   `json:"Git,omitempty"`
	Amo   *AmoSource   `json:"Amo,omitempty"`
	Local *LocalSource `json:"Local,omitempty"`
}

type GitSource struct {
	URL      string  `json:"url"`
	RefSpec  string  `json:"ref_spec"`
	BuildCmd *string `json:"build_cmd,omitempty"`
}

type AmoSource struct {
	AmoSlug string `json:"amo_slug"`
}

type LocalSource struct {
	OriginalPath string `json:"original_path"`
}

type ExtensionInstalled struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Version string  `json:"version"`
	Source  Source  `json:"source"`
	XPIData XPIData `json:"xpi_data"`
}

func (ExtensionInstalled) Type() Type { return TypeExtensionInstalled }

type ExtensionUninstalled struct {
	ID string `json:"id"`
}

func (ExtensionUninstalled) Type() Type { return TypeExtensionUninstalled }

type ContainerAdded struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

func (ContainerAdded) Type() Type { return TypeContainerAdded }

type ContainerRemoved struct {
	ID string `json:"id"`
}

func (ContainerRemoved) Type() Type { return TypeContainerRemoved }

type ContainerUpdated struct {
	ID    string  `json:"id"`
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
	Icon  *string `json:"icon,omitempty"`
}

func (ContainerUpdated) Type() Type { return TypeContainerUpdated }

type HandlerSet struct {
	Protocol string `json:"protocol"`
	Handler  string `json:"handler"`
}

func (HandlerSet) Type() Type { return TypeHandlerSet }

type HandlerRemoved struct {
	Protocol string `json:"protocol"`
}

func (HandlerRemoved) Type() Type { return TypeHandlerRemoved }

type SearchEngineAdded struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (SearchEngineAdded) Type() Type { return TypeSearchEngineAdded }

type SearchEngineRemoved struct {
	ID string `json:"id"`
}

func (SearchEngineRemoved) Type() Type { return TypeSearchEngineRemoved }

type SearchEngineDefault struct {
	ID string `json:"id"`
}

func (SearchEngineDefault) Type() Type { return TypeSearchEngineDefault }

// PrefValue is a discriminated union over the preference value types
// permitted pref value kinds: boolean, signed integer, or string.
type PrefValue struct {
	Bool  *bool   `json:"-"`
	Int   *int64  `json:"-"`
	Str   *string `json:"-"`
}

func BoolPref(v bool) PrefValue    { return PrefValue{Bool: &v} }
func IntPref(v int64) PrefValue    { return PrefValue{Int: &v} }
func StringPref(v string) PrefValue { return PrefValue{Str: &v} }

func (v PrefValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Bool != nil:
		return json.Marshal(*v.Bool)
	case v.Int != nil:
		return json.Marshal(*v.Int)
	case v.Str != nil:
		return json.Marshal(*v.Str)
	default:
		return json.Marshal(nil)
	}
}

func (v *PrefValue) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		v.Bool = &asBool
		return nil
	}
	var asInt int64
	if err := json.Unmarshal(data, &asInt); err == nil {
		v.Int = &asInt
		return nil
	}
	var asStr string
	if err := json.Unmarshal(data, &asStr); err == nil {
		v.Str = &asStr
		return nil
	}
	return &json.UnmarshalTypeError{Value: string(data), Type: nil}
}

type PrefSet struct {
	Key   string    `json:"key"`
	Value PrefValue `json:"value"`
}

func (PrefSet) Type() Type { return TypePrefSet }

type PrefRemoved struct {
	Key string `json:"key"`
}

func (PrefRemoved) Type() Type { return TypePrefRemoved }

type TabSent struct {
	ToDevice string  `json:"to_device"`
	URL      string  `json:"url"`
	Title    *string `json:"title,omitempty"`
}

func (TabSent) Type() Type { return TypeTabSent }

type TabReceived struct {
	EventID string `json:"event_id"`
}

func (TabReceived) Type() Type { return TypeTabReceived }

// Unknown preserves an unrecognized type tag and its raw payload bytes so
// the envelope round-trips on the wire even though it is never projected.
type Unknown struct {
	TypeTag Type
	Data    json.RawMessage
}

func (u Unknown) Type() Type { return u.TypeTag }
