package evaluation

import "time"

// Context is the set of attributes a feature is evaluated against. It has the same shape as the
// context SDKs send.
type Context struct {
	UserID        string            `json:"userId,omitempty"`
	SessionID     string            `json:"sessionId,omitempty"`
	RemoteAddress string            `json:"remoteAddress,omitempty"`
	Environment   string            `json:"environment,omitempty"`
	AppName       string            `json:"appName,omitempty"`
	CurrentTime   *time.Time        `json:"currentTime,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// The names of the context fields that are not properties.
const (
	FieldUserID        = "userId"
	FieldSessionID     = "sessionId"
	FieldRemoteAddress = "remoteAddress"
	FieldEnvironment   = "environment"
	FieldAppName       = "appName"
	FieldCurrentTime   = "currentTime"
)

// Field returns the value of a named context field. Names that are not one of the standard fields are
// looked up in Properties. The second return value is false if the field is not set.
func (c Context) Field(name string) (string, bool) {
	var value string
	switch name {
	case FieldUserID:
		value = c.UserID
	case FieldSessionID:
		value = c.SessionID
	case FieldRemoteAddress:
		value = c.RemoteAddress
	case FieldEnvironment:
		value = c.Environment
	case FieldAppName:
		value = c.AppName
	case FieldCurrentTime:
		if c.CurrentTime == nil {
			return "", false
		}
		value = c.CurrentTime.UTC().Format(time.RFC3339Nano)
	default:
		value = c.Properties[name]
	}
	return value, value != ""
}
