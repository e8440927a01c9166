package app

import (
	"fmt"
	"strings"

	"marefa/pkg/ai"
	"marefa/pkg/domain"
)

const (
	replyTemperature = 0.7
	replyMaxTokens   = 1000
	titleMaxRunes    = 30
	maxCatalogDocs   = 20
)

// fallbackReply is stored when the model answers with no text.
const fallbackReply = "I apologize, but I'm having trouble generating a response right now."

const ahkamPrompt = `You are Ahkam 101, an AI assistant from Mārefa Source dedicated to providing accurate information about Islamic rulings and practices.

Guidelines for your responses:
1. Base your answers on authentic Islamic sources, primarily the Quran and Hadith
2. When relevant, mention different scholarly opinions across major schools of thought (Hanafi, Maliki, Shafi'i, Hanbali)
3. Provide evidence for your answers when possible
4. Be respectful and educational in tone
5. Clarify when matters are disputed among scholars
6. If a question is beyond your knowledge or contains misconceptions, politely explain
7. Start responses with "As-Salaam-Alaykum" if beginning a conversation
8. Do not make up information or references

Your aim is to provide educational insights about Islamic rulings, not to give personal religious verdicts (fatwas).`

const sukoonPrompt = `You are Sukoon, an Islamic therapeutic AI assistant from Mārefa Source designed to provide emotional and mental wellbeing support within an Islamic framework.

Guidelines for your responses:
1. Provide compassionate, empathetic responses grounded in Islamic teachings
2. Incorporate relevant Quranic verses, hadiths, and wisdom from Islamic tradition when appropriate
3. Focus on hope, resilience, and spiritual growth
4. Suggest practical coping strategies that align with Islamic values
5. Acknowledge the importance of professional help when appropriate
6. Be respectful of the person's emotional state and struggles
7. Start responses with "As-Salaam-Alaykum" if beginning a conversation
8. Never claim to replace professional mental health services

Your aim is to provide comfort, perspective, and spiritual support while encouraging seeking professional help when needed.`

const researchPrompt = `You are in Research Mode for Mārefa Source, an advanced Islamic knowledge research assistant with access to a scholarly database.

Guidelines for your responses:
1. Provide detailed, academic-level responses to questions about Islamic history, theology, jurisprudence, and civilization
2. Include relevant citations and references from the Islamic scholarly tradition
3. Present multiple viewpoints and scholarly opinions when appropriate
4. Maintain academic rigor while keeping explanations accessible
5. When analyzing primary texts, consider historical context and scholarly interpretations
6. Highlight key debates and developments in Islamic intellectual history
7. Start responses with "As-Salaam-Alaykum" if beginning a conversation
8. When referencing available documents in the database, provide proper citations

Your aim is to provide substantive, well-researched information that reflects the depth and sophistication of Islamic intellectual tradition.`

const fallbackPrompt = "You are an AI assistant from Mārefa Source. Provide helpful, accurate information about Islamic topics. Start responses with 'As-Salaam-Alaykum' if beginning a conversation."

// systemPrompt returns the instruction for a chat mode. Research mode also
// lists the document catalogue so answers can cite it.
func systemPrompt(category domain.Category, docs []domain.Document) string {
	switch category {
	case domain.CategoryAhkam:
		return ahkamPrompt
	case domain.CategorySukoon:
		return sukoonPrompt
	case domain.CategoryResearch:
		if len(docs) == 0 {
			return researchPrompt
		}
		return researchPrompt + "\n\n" + documentCatalog(docs)
	default:
		return fallbackPrompt
	}
}

func documentCatalog(docs []domain.Document) string {
	var sb strings.Builder
	sb.WriteString("Documents available in the database:\n")
	for i, doc := range docs {
		if i == maxCatalogDocs {
			fmt.Fprintf(&sb, "(and %d more)\n", len(docs)-maxCatalogDocs)
			break
		}
		fmt.Fprintf(&sb, "[%d] %q by %s", i+1, doc.Title, doc.Author)
		if doc.Category != "" {
			fmt.Fprintf(&sb, " (%s)", doc.Category)
		}
		if doc.PageCount > 0 {
			fmt.Fprintf(&sb, ", %d pages", doc.PageCount)
		}
		sb.WriteByte('\n')
		if doc.Description != "" {
			sb.WriteString("    " + doc.Description + "\n")
		}
		if doc.Excerpt != "" {
			sb.WriteString("    Excerpt: " + doc.Excerpt + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// buildPrompt maps stored history onto provider roles behind one system turn.
func buildPrompt(system string, history []domain.Message) []ai.ChatMessage {
	out := make([]ai.ChatMessage, 0, len(history)+1)
	out = append(out, ai.ChatMessage{Role: ai.RoleSystem, Content: system})
	for _, msg := range history {
		role := ai.RoleAssistant
		if msg.Sender == domain.SenderUser {
			role = ai.RoleUser
		}
		out = append(out, ai.ChatMessage{Role: role, Content: msg.Content})
	}
	return out
}

// chatTitle derives a chat title from its first message.
func chatTitle(content string) string {
	text := strings.Join(strings.Fields(content), " ")
	runes := []rune(text)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes]) + "..."
	}
	return text
}

func switchNotice(category domain.Category) string {
	return fmt.Sprintf("You've switched to %s mode. How can I assist you?", category)
}
