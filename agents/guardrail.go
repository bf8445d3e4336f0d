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

import "context"

// GuardrailFunctionOutput is the output of a guardrail function.
type GuardrailFunctionOutput struct {
	// OutputInfo is optional information about the guardrail's output.
	// For example, the guardrail could include information about the checks
	// it performed and granular results.
	OutputInfo any

	// TripwireTriggered reports whether the tripwire was triggered. If
	// triggered, the agent's execution will halt.
	TripwireTriggered bool
}

// InputGuardrailResult is the result of an InputGuardrail run.
type InputGuardrailResult struct {
	// The guardrail that was run.
	Guardrail InputGuardrail

	// The output of the guardrail function.
	Output GuardrailFunctionOutput
}

// InputGuardrail is a check that runs in parallel to the agent's execution,
// validating the input to the starting agent. For example, it could check
// whether the input is off-topic, and halt the run if so.
//
// Input guardrails run only on the run's first turn, for the starting agent.
type InputGuardrail struct {
	// GuardrailFunction receives the agent and the input to the run, and
	// reports whether the tripwire was triggered.
	GuardrailFunction func(ctx context.Context, agent *Agent, input Input) (GuardrailFunctionOutput, error)

	// The name of the guardrail, used for tracing.
	Name string
}

func (g InputGuardrail) Run(ctx context.Context, agent *Agent, input Input) (InputGuardrailResult, error) {
	output, err := g.GuardrailFunction(ctx, agent, input)
	if err != nil {
		return InputGuardrailResult{}, err
	}
	return InputGuardrailResult{
		Guardrail: g,
		Output:    output,
	}, nil
}

// OutputGuardrailResult is the result of an OutputGuardrail run.
type OutputGuardrailResult struct {
	// The guardrail that was run.
	Guardrail OutputGuardrail

	// The output of the agent that was checked by the guardrail.
	AgentOutput any

	// The agent that was checked by the guardrail.
	Agent *Agent

	// The output of the guardrail function.
	Output GuardrailFunctionOutput
}

// OutputGuardrail is a check that validates the final output of an agent.
// For example, it could check whether the output contains sensitive data.
//
// Output guardrails run on the agent that produced the final output.
type OutputGuardrail struct {
	// GuardrailFunction receives the agent and its final output, and
	// reports whether the tripwire was triggered.
	GuardrailFunction func(ctx context.Context, agent *Agent, agentOutput any) (GuardrailFunctionOutput, error)

	// The name of the guardrail, used for tracing.
	Name string
}

func (g OutputGuardrail) Run(ctx context.Context, agent *Agent, agentOutput any) (OutputGuardrailResult, error) {
	output, err := g.GuardrailFunction(ctx, agent, agentOutput)
	if err != nil {
		return OutputGuardrailResult{}, err
	}
	return OutputGuardrailResult{
		Guardrail:   g,
		AgentOutput: agentOutput,
		Agent:       agent,
		Output:      output,
	}, nil
}
