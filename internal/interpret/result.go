package interpret

import "encoding/json"

// ErrorLabel prefixes every failure shown to the user.
const ErrorLabel = "خطا در پردازش فرم"

// Kind tags which form a Result takes.
type Kind int

const (
	KindStructured Kind = iota
	KindUnstructured
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindStructured:
		return "structured"
	case KindUnstructured:
		return "unstructured"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorKind classifies failures for logs and API clients. Users see the same
// labeled message for every kind.
type ErrorKind string

const (
	ErrorDecode     ErrorKind = "decode"
	ErrorAuth       ErrorKind = "auth"
	ErrorQuota      ErrorKind = "quota"
	ErrorNetwork    ErrorKind = "network"
	ErrorParse      ErrorKind = "parse"
	ErrorUnexpected ErrorKind = "unexpected"
)

// Result is exactly one of Structured, Unstructured or Failed.
type Result struct {
	Kind Kind
	// JSON is the re-serialized value for KindStructured.
	JSON json.RawMessage
	// Raw is the unmodified model text for KindUnstructured.
	Raw       string
	ErrorKind ErrorKind
	Message   string
}

func Structured(value json.RawMessage) Result {
	return Result{Kind: KindStructured, JSON: value}
}

func Unstructured(text string) Result {
	return Result{Kind: KindUnstructured, Raw: text}
}

func Failed(kind ErrorKind, message string) Result {
	return Result{Kind: KindFailed, ErrorKind: kind, Message: message}
}

// Text renders the result the way the page displays it.
func (r Result) Text() string {
	switch r.Kind {
	case KindStructured:
		return string(r.JSON)
	case KindUnstructured:
		return r.Raw
	default:
		return ErrorLabel + ": " + r.Message
	}
}
