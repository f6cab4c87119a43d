// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package obslog adapts shared/logger for the supervision components,
// keeping the same structured-JSON-via-log-package shape the rest of the
// platform uses rather than introducing a separate logging stack.
package obslog

import "guardrail/platform/shared/logger"

// New returns a component-scoped logger, e.g. obslog.New("policy").
func New(component string) *logger.Logger {
	return logger.New("supervision." + component)
}
