package protocol

// Category is the closed set of inbound message types the hub understands.
type Category int

const (
	CategoryUnknown Category = iota
	CategorySensorData
	CategoryEngineState
	CategoryPowerState
	CategoryHeartbeat
	CategoryCommand
	CategoryResponse
	CategoryStatus
	CategoryAlert
)

// Wire names of the recognized inbound types
const (
	TypeSensorData  = "sensor_data"
	TypeEngineState = "engine_state"
	TypePowerState  = "power_state"
	TypeHeartbeat   = "heartbeat"
	TypeCommand     = "command"
	TypeResponse    = "response"
	TypeStatus      = "status"
	TypeAlert       = "alert"
)

// Server-originated types
const (
	TypeWelcome = "welcome"
	TypeError   = "error"
)

var categoryNames = map[Category]string{
	CategorySensorData:  TypeSensorData,
	CategoryEngineState: TypeEngineState,
	CategoryPowerState:  TypePowerState,
	CategoryHeartbeat:   TypeHeartbeat,
	CategoryCommand:     TypeCommand,
	CategoryResponse:    TypeResponse,
	CategoryStatus:      TypeStatus,
	CategoryAlert:       TypeAlert,
}

var categoriesByName = func() map[string]Category {
	m := make(map[string]Category, len(categoryNames))
	for c, name := range categoryNames {
		m[name] = c
	}
	return m
}()

// ParseCategory maps a wire type to its category. Anything not in the
// recognized set, including server-originated types, is CategoryUnknown.
func ParseCategory(msgType string) Category {
	if c, ok := categoriesByName[msgType]; ok {
		return c
	}
	return CategoryUnknown
}

// String returns the wire name of the category
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// Known reports whether c is one of the recognized inbound categories.
func (c Category) Known() bool {
	_, ok := categoryNames[c]
	return ok
}

// Categories returns every recognized category in wire order.
func Categories() []Category {
	return []Category{
		CategorySensorData,
		CategoryEngineState,
		CategoryPowerState,
		CategoryHeartbeat,
		CategoryCommand,
		CategoryResponse,
		CategoryStatus,
		CategoryAlert,
	}
}
