package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Fatal    bool
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Routing (R001-R099)
	"R001": {Category: CategoryRouting, Message: "Path escapes routing root"},
	"R002": {Category: CategoryRouting, Message: "Remote URL passed to next"},
	"R003": {Category: CategoryRouting, Message: "Malformed route path"},

	// Dispatch (D001-D099)
	"D001": {Category: CategoryDispatch, Message: "Unexpected late response", Fatal: true},

	// Lifecycle (L001-L099)
	"L001": {Category: CategoryLifecycle, Message: "waitUntil called after lifecycle completion", Fatal: true},
	"L002": {Category: CategoryLifecycle, Message: "Instance already closed"},

	// Mutation sync (S001-S099)
	"S001": {Category: CategorySync, Message: "Malformed mutation batch"},
	"S002": {Category: CategorySync, Message: "Unresolvable mutation path"},

	// Transport (T001-T099)
	"T001": {Category: CategoryTransport, Message: "Port closed"},
	"T002": {Category: CategoryTransport, Message: "Incompatible peer protocol version"},

	// Config (C001-C099)
	"C001": {Category: CategoryConfig, Message: "Invalid configuration"},

	// Command line (E001-E099)
	"E001": {Category: CategoryCommand, Message: "Command failed"},
}
