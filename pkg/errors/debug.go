package errors

import (
	"errors"
	"fmt"
)

type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`
	Status     int    `json:"status,omitempty"`

	Chain []string `json:"chain,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
	}

	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Status = te.Status()
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	return d
}

// Fields flattens the dump into logger fields.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error": d.TopMessage,
	}
	if d.Code != "" {
		fields["error_code"] = string(d.Code)
	}
	if d.Status != 0 {
		fields["error_status"] = d.Status
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	return fields
}
