package logg

// Structured log field names shared by all layers.
const (
	Layer     = "layer"
	Operation = "operation"
	SessionID = "session_id"
	Action    = "action"
	Target    = "target"
	Selector  = "selector"
	Document  = "document"
	URL       = "url"
	Browser   = "browser_kind"
)
