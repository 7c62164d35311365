// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ssht

// Status is the result of a build or derive.
type Status int

const (
	// StatusOK means the artifact was written completely.
	StatusOK Status = iota
	// StatusBadInput means a stream produced a malformed record (wrong
	// key or value length, missing key, length overflow) or the input
	// set as a whole was unusable (empty, lying totals, oversubscribed).
	StatusBadInput
	// StatusFailToOutput means a write or flush on the sink failed.
	StatusFailToOutput
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBadInput:
		return "bad input"
	case StatusFailToOutput:
		return "fail to output"
	default:
		return "unknown status"
	}
}
