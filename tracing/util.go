// Copyright 2025 The NLP Odyssey Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// TimeISO formats a time in ISO 8601 (UTC), the format used in exports.
func TimeISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// GenTraceID generates a new trace ID.
func GenTraceID() string {
	u := uuid.New()
	return "trace_" + hex.EncodeToString(u[:])
}

// GenSpanID generates a new span ID.
func GenSpanID() string {
	u := uuid.New()
	return "span_" + hex.EncodeToString(u[:12])
}

// GenGroupID generates a new group ID.
func GenGroupID() string {
	u := uuid.New()
	return "group_" + hex.EncodeToString(u[:12])
}
