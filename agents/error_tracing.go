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

package agents

import (
	"context"
	"log/slog"

	"github.com/nlpodyssey/agentcore/tracing"
)

// AttachErrorToSpan records a structured error on the given span.
func AttachErrorToSpan(span tracing.Span, err tracing.SpanError) {
	span.SetError(err)
}

// AttachErrorToCurrentSpan records a structured error on the span currently
// carried by the context, if any.
func AttachErrorToCurrentSpan(ctx context.Context, err tracing.SpanError) {
	if span := tracing.GetCurrentSpan(ctx); span != nil {
		AttachErrorToSpan(span, err)
		return
	}
	Logger().Warn("No span to add error to", slog.String("error", err.Error()))
}
