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
	"errors"
	"fmt"
)

// AgentsError is the base error for the agents package. Errors returned by
// a run wrap an AgentsError, whose RunData reports the state of the run at
// the moment of failure.
type AgentsError struct {
	Err     error
	RunData *RunErrorDetails
}

func NewAgentsError(message string) *AgentsError {
	return &AgentsError{Err: errors.New(message)}
}

func AgentsErrorf(format string, a ...any) *AgentsError {
	return &AgentsError{Err: fmt.Errorf(format, a...)}
}

func (err *AgentsError) Error() string {
	if err.Err == nil {
		return "agents error"
	}
	return err.Err.Error()
}

func (err *AgentsError) Unwrap() error { return err.Err }

// RunErrorDetails is a snapshot of the run at the moment an error occurred.
type RunErrorDetails struct {
	Context                context.Context
	Input                  Input
	NewItems               []RunItem
	RawResponses           []ModelResponse
	LastAgent              *Agent
	InputGuardrailResults  []InputGuardrailResult
	OutputGuardrailResults []OutputGuardrailResult
}

// MaxTurnsExceededError is returned when the maximum number of turns of a
// run is exceeded.
type MaxTurnsExceededError struct {
	*AgentsError
}

func NewMaxTurnsExceededError(message string) MaxTurnsExceededError {
	return MaxTurnsExceededError{AgentsError: NewAgentsError(message)}
}

func MaxTurnsExceededErrorf(format string, a ...any) MaxTurnsExceededError {
	return MaxTurnsExceededError{AgentsError: AgentsErrorf(format, a...)}
}

func (err MaxTurnsExceededError) Unwrap() error { return err.AgentsError }

// ModelBehaviorError is returned when the model does something unexpected,
// e.g. calling a tool that doesn't exist, or providing malformed JSON.
type ModelBehaviorError struct {
	*AgentsError
}

func NewModelBehaviorError(message string) ModelBehaviorError {
	return ModelBehaviorError{AgentsError: NewAgentsError(message)}
}

func ModelBehaviorErrorf(format string, a ...any) ModelBehaviorError {
	return ModelBehaviorError{AgentsError: AgentsErrorf(format, a...)}
}

func (err ModelBehaviorError) Unwrap() error { return err.AgentsError }

// UserError is returned when the user makes an error using the package.
type UserError struct {
	*AgentsError
}

func NewUserError(message string) UserError {
	return UserError{AgentsError: NewAgentsError(message)}
}

func UserErrorf(format string, a ...any) UserError {
	return UserError{AgentsError: AgentsErrorf(format, a...)}
}

func (err UserError) Unwrap() error { return err.AgentsError }

// InputGuardrailTripwireTriggeredError is returned when an input guardrail
// tripwire is triggered.
type InputGuardrailTripwireTriggeredError struct {
	*AgentsError

	// GuardrailResult is the result data of the guardrail that was triggered.
	GuardrailResult InputGuardrailResult
}

func NewInputGuardrailTripwireTriggeredError(result InputGuardrailResult) InputGuardrailTripwireTriggeredError {
	return InputGuardrailTripwireTriggeredError{
		AgentsError:     AgentsErrorf("guardrail %s triggered tripwire", result.Guardrail.Name),
		GuardrailResult: result,
	}
}

func (err InputGuardrailTripwireTriggeredError) Unwrap() error { return err.AgentsError }

// OutputGuardrailTripwireTriggeredError is returned when an output guardrail
// tripwire is triggered.
type OutputGuardrailTripwireTriggeredError struct {
	*AgentsError

	// GuardrailResult is the result data of the guardrail that was triggered.
	GuardrailResult OutputGuardrailResult
}

func NewOutputGuardrailTripwireTriggeredError(result OutputGuardrailResult) OutputGuardrailTripwireTriggeredError {
	return OutputGuardrailTripwireTriggeredError{
		AgentsError:     AgentsErrorf("guardrail %s triggered tripwire", result.Guardrail.Name),
		GuardrailResult: result,
	}
}

func (err OutputGuardrailTripwireTriggeredError) Unwrap() error { return err.AgentsError }
