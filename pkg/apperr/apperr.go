package apperr

import (
	"errors"
	"fmt"
)

const (
	MetaReason    = "reason"
	MetaStage     = "stage"
	MetaField     = "field"
	MetaSessionID = "session_id"
	MetaAction    = "action"
	MetaTarget    = "target"
	MetaSelector  = "selector"
	MetaURL       = "url"
	MetaValue     = "value"
	MetaAttempts  = "attempts"

	StageBrowser     = "browser"
	StageRegistry    = "registry"
	StageParse       = "parse"
	StageResolution  = "resolution"
	StageScreenshot  = "screenshot"
	StagePageState   = "page_state"
	StageNavigation  = "navigation"
	StageInteraction = "interaction"

	CodeInternal          = "internal"
	CodeInvalidArgument   = "invalid_argument"
	CodeLaunchFailed      = "launch_failed"
	CodeSessionNotFound   = "session_not_found"
	CodeNavigationFailed  = "navigation_failed"
	CodeElementNotFound   = "element_not_found"
	CodeOptionNotFound    = "option_not_found"
	CodeParse             = "parse_error"
	CodeTimeout           = "timeout"
	CodeUnsupportedAction = "unsupported_action"
	CodeActionFailed      = "action_failed"
)

type Error struct {
	Op       string
	Code     string
	Err      error
	Metadata map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Wrap(op, code string, err error, metadata map[string]any) error {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &Error{
		Op:       op,
		Code:     code,
		Err:      err,
		Metadata: metadata,
	}
}

func WrapWithReason(op, code string, err error, reason string) error {
	return Wrap(op, code, err, map[string]any{
		MetaReason: reason,
	})
}

func WrapErrorWithReason(op, code, reason string) error {
	return Wrap(op, code, errors.New(reason), map[string]any{
		MetaReason: reason,
	})
}

func InvalidReqError(op, field string, err error) error {
	return Wrap(op, CodeInvalidArgument, err, map[string]any{
		MetaField:  field,
		MetaReason: "invalid_request",
	})
}

func SessionNotFoundError(op, sessionID string) error {
	return Wrap(op, CodeSessionNotFound, fmt.Errorf("session %q not found", sessionID), map[string]any{
		MetaReason:    "session_not_found",
		MetaSessionID: sessionID,
	})
}

// CodeOf returns the code of the outermost *Error in the chain that carries
// one other than CodeInternal, falling back to CodeInternal.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}

	code := CodeInternal

	for err != nil {
		var appErr *Error
		if !errors.As(err, &appErr) {
			break
		}

		if appErr.Code != "" && appErr.Code != CodeInternal {
			return appErr.Code
		}

		err = appErr.Err
	}

	return code
}

func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// MetaOf collects metadata from every *Error in the chain; outer values win.
func MetaOf(err error) map[string]any {
	meta := make(map[string]any)

	for err != nil {
		var appErr *Error
		if !errors.As(err, &appErr) {
			break
		}

		for k, v := range appErr.Metadata {
			if _, ok := meta[k]; !ok {
				meta[k] = v
			}
		}

		err = appErr.Err
	}

	return meta
}
