package tools

// Result carries a tool's output split by audience. ForLLM always goes
// back into the conversation; ForUser, when set, is delivered to the
// channel directly. Silent results are LLM-only.
type Result struct {
	ForLLM  string
	ForUser string
	Silent  bool
	IsError bool
	Err     error
}

// NewResult returns a result shown to both the LLM and the user.
func NewResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

// SilentResult returns a result only the LLM sees.
func SilentResult(content string) *Result {
	return &Result{ForLLM: content, Silent: true}
}

// UserResult returns different content for the LLM and the user.
func UserResult(forLLM, forUser string) *Result {
	return &Result{ForLLM: forLLM, ForUser: forUser}
}

// ErrorResult returns an error the LLM can react to.
func ErrorResult(msg string) *Result {
	return &Result{ForLLM: "Error: " + msg, Silent: true, IsError: true}
}
