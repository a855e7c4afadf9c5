package ai

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the orchestrator-facing failure classification.
type ErrorKind string

const (
	KindAPIKey  ErrorKind = "apiKey"
	KindNetwork ErrorKind = "network"
	KindUnknown ErrorKind = "unknown"
)

// ConfigError reports a request rejected before any network traffic, e.g. a
// missing credential or model id. It still surfaces through Handlers.OnError
// so upstream handling stays uniform.
type ConfigError struct {
	Provider string
	Field    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s is required", e.Provider, e.Field)
}

// TransportError wraps a vendor-side failure: non-2xx status, decode error, or
// a broken connection. Network marks failures where no well-formed response
// arrived at all.
type TransportError struct {
	Provider string
	Network  bool
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Classify maps a gateway error to an ErrorKind. Structured error types win;
// for opaque vendor errors it falls back to case-insensitive substring
// matching on "api key"/"apikey", which is fragile but matches what vendors
// actually put in their messages. Everything else is KindUnknown.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		if strings.Contains(strings.ToLower(cfgErr.Field), "api key") {
			return KindAPIKey
		}
		return KindUnknown
	}

	var trErr *TransportError
	if errors.As(err, &trErr) && trErr.Network {
		return KindNetwork
	}

	desc := strings.ToLower(err.Error())
	if strings.Contains(desc, "api key") || strings.Contains(desc, "apikey") {
		return KindAPIKey
	}
	return KindUnknown
}
