package llm

import (
	"context"
	"log"
)

// fallbackMessage is returned when every upstream model fails. It is still
// a real answer from the user's point of view, so callers persist it like
// any other response.
const fallbackMessage = `I'm currently experiencing technical difficulties with the AI service. However, I can help you with:
1. General interview preparation tips
2. Resume review guidance
3. Common interview questions for your role
4. Career development advice

Please try again in a moment, or feel free to ask me specific questions about your interview preparation.`

// Generator produces one answer for one user message.
type Generator interface {
	Generate(ctx context.Context, message string) (string, error)
}

// Responder tries Gemini first, then OpenAI, and finally the static
// fallback. Reply never fails: the caller always gets text to store and
// return to the user.
type Responder struct {
	Primary  Generator
	Fallback Generator // optional
	// OnFallback fires once per reply that the primary model could not
	// serve, before any fallback path runs.
	OnFallback func()
}

func NewResponder(primary, fallback Generator) *Responder {
	return &Responder{Primary: primary, Fallback: fallback}
}

func (r *Responder) Reply(ctx context.Context, message string) string {
	answer, err := r.Primary.Generate(ctx, message)
	if err == nil {
		return answer
	}
	log.Printf("llm: primary model failed: %v", err)
	if r.OnFallback != nil {
		r.OnFallback()
	}

	if r.Fallback != nil {
		answer, err = r.Fallback.Generate(ctx, message)
		if err == nil {
			return answer
		}
		log.Printf("llm: fallback model failed: %v", err)
	}
	return fallbackMessage
}
