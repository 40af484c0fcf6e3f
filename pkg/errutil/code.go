// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package errutil

import (
	"fmt"

	"github.com/samber/oops"
)

// ErrorCode returns the oops code carried by err, or "" when it has none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch c := any(oopsErr.Code()).(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		return fmt.Sprint(c)
	}
}
