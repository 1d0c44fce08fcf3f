package intent

import "strings"

// classifierPrompt is the few-shot job-description classifier. The
// message is substituted for {message}.
const classifierPrompt = `
You are a classifier that determines if a message or Email contains a job description or relevant role details.

Definition of a job description: A message that contains key role information such as job title, responsibilities, required skills, qualifications, or hiring criteria.

Answer only YES or NO. Do not explain.

Examples:
Message: "Hello, do you have a moment to talk?"
Answer: NO

Message: "We are looking for a software engineer with 3+ years of Python experience to join our AI team."
Answer: YES

Message: "Hope you are doing well."
Answer: NO

Message: "The role is a data scientist position at our Boston office, involving machine learning and data pipelines."
Answer: YES

Now classify:
Message: "{message}"
Answer:
`

// BuildPrompt returns the classifier prompt for message.
func BuildPrompt(message string) string {
	return strings.Replace(classifierPrompt, "{message}", message, 1)
}
