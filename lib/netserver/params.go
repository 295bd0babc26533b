// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netserver

import (
	"fmt"

	"github.com/bureau-foundation/edlink/lib/codec"
)

// pipeID reads a pipe identifier from a decoded value. A remote that
// refuses a connection answers false, which is not an id.
func pipeID(value any) (int64, bool) {
	id, ok := codec.Int64(value)
	if !ok || id < 0 {
		return 0, false
	}
	return id, true
}

func stringParam(params any) (string, error) {
	text, ok := params.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %T", params)
	}
	return text, nil
}

func idParam(params any) (int64, error) {
	id, ok := pipeID(params)
	if !ok {
		return 0, fmt.Errorf("expected a pipe id, got %T", params)
	}
	return id, nil
}

func mapParam(params any) (map[string]any, error) {
	fields, ok := params.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a map, got %T", params)
	}
	return fields, nil
}

// sendParams decodes {pipe, data}.
func sendParams(params any) (int64, any, error) {
	fields, err := mapParam(params)
	if err != nil {
		return 0, nil, err
	}
	id, err := idParam(fields["pipe"])
	if err != nil {
		return 0, nil, err
	}
	return id, fields["data"], nil
}

// isTrue reports whether a decoded result is boolean true.
func isTrue(value any) bool {
	flag, ok := value.(bool)
	return ok && flag
}
