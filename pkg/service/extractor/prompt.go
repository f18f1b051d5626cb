package extractor

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
)

const extractionSystemPrompt = `You are a memory extraction assistant. You read one utterance from a conversation and write down the facts worth remembering.

## Instructions:

1. Write each fact as a lossless_restatement: a complete sentence that can be understood without the conversation. Replace pronouns with names and relative dates with absolute ones based on the utterance timestamp.
2. Split the utterance into several memories when it states independent facts.
3. For each memory also provide keywords, the timestamp the fact refers to (ISO-8601), a location, the persons involved, other named entities and a short topic. Leave fields empty when unknown.
4. Greetings, filler and small talk hold no memory. Return an empty array for them.
5. Write in the same language as the utterance.
`

const answerSystemPrompt = `You answer questions using only the memories provided. Cite facts as they are written. If the memories do not contain the answer, say that you do not know. Answer concisely in the language of the question.`

func buildExtractionPrompt(d *model.Dialogue) string {
	var sb strings.Builder

	sb.WriteString("## Utterance\n\n")
	if d.Speaker != "" {
		fmt.Fprintf(&sb, "**Speaker:** %s\n", d.Speaker)
	}
	fmt.Fprintf(&sb, "**Timestamp:** %s\n", d.Timestamp)
	if d.Location != "" {
		fmt.Fprintf(&sb, "**Location:** %s\n", d.Location)
	}
	if len(d.Persons) > 0 {
		fmt.Fprintf(&sb, "**Persons mentioned:** %s\n", strings.Join(d.Persons, ", "))
	}
	if len(d.Entities) > 0 {
		fmt.Fprintf(&sb, "**Entities mentioned:** %s\n", strings.Join(d.Entities, ", "))
	}
	if d.Topic != "" {
		fmt.Fprintf(&sb, "**Topic:** %s\n", d.Topic)
	}
	sb.WriteString("\n**Content:**\n")
	sb.WriteString(d.Content)
	sb.WriteString("\n")

	return sb.String()
}

func buildAnswerPrompt(question string, grounding []*model.MemoryRecord) string {
	var sb strings.Builder

	sb.WriteString("## Memories\n\n")
	for i, r := range grounding {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, r.Timestamp, r.LosslessRestatement)
		if r.Location != "" {
			fmt.Fprintf(&sb, " (at %s)", r.Location)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Question\n\n")
	sb.WriteString(question)
	sb.WriteString("\n")

	return sb.String()
}

func stringArray(description string) *gollem.Parameter {
	return &gollem.Parameter{
		Type:        gollem.TypeArray,
		Description: description,
		Items:       &gollem.Parameter{Type: gollem.TypeString},
	}
}

// extractionSchema is the JSON schema of llmResponse
func extractionSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "MemoryExtractionResponse",
		Description: "Memories extracted from one utterance",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"memories": {
				Type:        gollem.TypeArray,
				Description: "Facts worth remembering; empty when there are none",
				Items: &gollem.Parameter{
					Type: gollem.TypeObject,
					Properties: map[string]*gollem.Parameter{
						"lossless_restatement": {
							Type:        gollem.TypeString,
							Description: "Self-contained sentence stating the fact",
						},
						"keywords": stringArray("Keywords for retrieval"),
						"timestamp": {
							Type:        gollem.TypeString,
							Description: "ISO-8601 time the fact refers to",
						},
						"location": {
							Type:        gollem.TypeString,
							Description: "Place related to the fact",
						},
						"persons":  stringArray("People involved"),
						"entities": stringArray("Other named entities such as projects, products or organizations"),
						"topic": {
							Type:        gollem.TypeString,
							Description: "Short topic label",
						},
					},
				},
			},
		},
	}
}
