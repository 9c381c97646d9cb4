package diagnosis

import "fmt"

// InsufficientSymptoms is the sentinel the single-condition prompt allows
// instead of a condition name.
const InsufficientSymptoms = "INSUFFICIENT_SYMPTOMS"

func singleConditionPrompt(symptoms string) string {
	return fmt.Sprintf(`You are a medical diagnostic assistant responding to a user query about symptoms.

INSTRUCTIONS:
1. Analyze the following symptoms: %s
2. If the symptoms are insufficient for making a reliable assessment, respond ONLY with "INSUFFICIENT_SYMPTOMS" (no other text).
3. If the symptoms are sufficient, respond ONLY with the single most likely condition name (no explanations or additional text).
4. Be precise with terminology, using the standard medical condition name.
5. Do not provide any disclaimers, explanations, questions, or additional context.
6. Do not suggest seeking medical attention even if the condition seems serious.

Remember: Your response must be ONLY "INSUFFICIENT_SYMPTOMS" or a single condition name with no other text.`, symptoms)
}

func rankedConditionsPrompt(symptoms string) string {
	return fmt.Sprintf(`You are a medical diagnostic assistant. Based on these symptoms: "%s", identify the 10 most likely medical conditions with their probability percentages.

Requirements:
1. List EXACTLY 10 conditions, no more and no less
2. Assign a percentage likelihood to each condition
3. Ensure all percentages sum precisely to 100%%
4. Order conditions from highest to lowest percentage
5. Only include medically plausible conditions given the symptoms
6. Do not include any explanations, warnings, or disclaimers

Format your response exactly like this:
Condition1: 35%%
Condition2: 25%%
Condition3: 15%%
Condition4: 8%%
Condition5: 5%%
Condition6: 4%%
Condition7: 3%%
Condition8: 2%%
Condition9: 2%%
Condition10: 1%%

Do not deviate from this format. The condition name should be on the left and the percentage on the right.`, symptoms)
}
