// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var reDuration = regexp.MustCompile(`(\d+\.?\d*)([µa-z]+)`)

// FormatDuration prints a duration with at most 2 decimal places in its largest unit, e.g. "1.50s".
func FormatDuration(d time.Duration) string {
	s := d.String()
	matches := reDuration.FindStringSubmatch(s)
	if len(matches) != 3 || matches[0] != s {
		return s
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, matches[2])
}
