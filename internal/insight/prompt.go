package insight

import (
	"fmt"
	"strings"

	"github.com/ashureev/connectwise-ai/internal/domain"
)

// NoHiringSignals stands in for an empty role list in the prompt.
const NoHiringSignals = "None specified"

const promptTemplate = `You are an AI assistant named ConnectWise AI, specializing in providing ethical company insights and market intelligence.
Your tone is professional, insightful, and strictly data-driven. Do not hallucinate or provide information not supported by the data.

Here is the data for the company "%s":
- Domain: %s
- Industry: %s
- Description: %s
- Funding Stage: %s
- Recent Hiring Signals: %s

Based *only* on the information provided above, answer the following user question. If the information is not available in the provided data, state that you do not have enough information to answer. Format your response using markdown for readability.

User Question: "%s"
`

// BuildPrompt embeds the company's facts and the question in a single prompt.
func BuildPrompt(company *domain.Company, question string) string {
	return fmt.Sprintf(promptTemplate,
		company.Name,
		company.Domain,
		company.Industry,
		company.Description,
		company.FundingStage,
		hiringSummary(company),
		question,
	)
}

func hiringSummary(company *domain.Company) string {
	roles := company.HiringRoles()
	if len(roles) == 0 {
		return NoHiringSignals
	}
	return strings.Join(roles, ", ")
}
