package gateway

import (
	"encoding/json"
	"fmt"
)

// Result is the status block every backend response carries.
type Result struct {
	ResponseCode        int    `json:"responseCode"`
	ResponseDescription string `json:"responseDescription"`
}

// Envelope is the backend response wrapper.
type Envelope struct {
	Result Result          `json:"result"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Success reports whether the envelope signals domain-level success.
func (e *Envelope) Success() bool {
	return e.Result.ResponseCode == 200 || e.Result.ResponseCode == 201
}

// Decode unmarshals the data field into v. Empty and null data leave v untouched.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return &Error{Kind: KindMalformed, Message: "decode data", Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// classify converts an envelope into an error when its code is not a success.
func classify(env *Envelope, status int) error {
	if env.Success() {
		return nil
	}
	code := env.Result.ResponseCode
	kind := KindDomainRejected
	if code >= 500 && code <= 599 {
		kind = KindServer
	}
	return &Error{
		Kind:       kind,
		StatusCode: status,
		Code:       code,
		Message:    env.Result.ResponseDescription,
	}
}

// decodeEnvelope parses body. ok is false when body is not an envelope.
func decodeEnvelope(body []byte) (*Envelope, bool) {
	if len(body) == 0 {
		return nil, false
	}
	var probe struct {
		Result *Result         `json:"result"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Result == nil {
		return nil, false
	}
	return &Envelope{Result: *probe.Result, Data: probe.Data}, true
}
