package server

var (
	REASON_JSON_SYNTAX_ERROR  = Reason("json syntax error in body")
	REASON_INTERNAL_ERROR     = Reason("internal server error")
	REASON_INVALID_CREDENTIAL = Reason("invalid or unverifiable credential")
	REASON_AGENT_EXISTS       = Reason("an agent is already registered for this credential")
	REASON_AGENT_NOT_FOUND    = Reason("no agent registered for this credential")
)

// Error reason
type ErrorReason struct {
	Reason string `json:"reason" example:"reason"`
}

func Reason(err string) ErrorReason {
	return ErrorReason{err}
}
