package ai

import "fmt"

// industryContext gives the model domain vocabulary per business industry.
// Unknown industries get the generic framing.
var industryContext = map[string]string{
	"restaurant": "The business is a restaurant. Typical inquiries concern reservations, menus, allergens, opening hours, and group bookings.",
	"salon":      "The business is a hair or beauty salon. Typical inquiries concern appointment booking, treatments, pricing, and cancellations.",
	"clinic":     "The business is a medical or dental clinic. Typical inquiries concern appointments, symptoms, insurance, and opening hours. Never give medical advice in the reply.",
	"retail":     "The business is a retail shop. Typical inquiries concern stock, orders, returns, and delivery.",
	"general":    "The business is a small service business receiving customer inquiries over chat.",
}

// SystemPrompt builds the analysis instruction for one business. The model
// must answer with a single JSON object; the response_format option enforces
// it on compatible providers, the prompt enforces it on the rest.
func SystemPrompt(industry, language string) string {
	ctx, ok := industryContext[industry]
	if !ok {
		ctx = industryContext["general"]
	}
	if language == "" {
		language = "en"
	}
	return fmt.Sprintf(`You analyze one inbound customer message for a business. %s

Respond with exactly one JSON object, no prose, with these keys:
  "type": one of "booking", "question", "complaint", "feedback", "other"
  "summary": one sentence summarizing the request
  "extracted_info": object of concrete details found (dates, times, names, party sizes); empty object if none
  "sentiment": one of "positive", "neutral", "negative"
  "urgency": one of "low", "medium", "high"
  "suggested_reply": a short, polite reply in language %q
  "confidence": number between 0 and 1`, ctx, language)
}
