package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress     string
	DatabaseURL     string
	GeminiAPIKey    string
	GeminiLiveModel string
	GeminiChatModel string
	VoiceName       string
	OpenAIKey       string
	OpenAIModel     string
	FrontendURL     string
	DefaultRole     string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Println("Warning: DATABASE_URL not set - chat history and session storage will not work")
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set - voice interviews and chat will not work")
	}

	liveModel := os.Getenv("GEMINI_LIVE_MODEL")
	if liveModel == "" {
		liveModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	}
	chatModel := os.Getenv("GEMINI_CHAT_MODEL")
	if chatModel == "" {
		chatModel = "gemini-2.0-flash"
	}

	voiceName := os.Getenv("VOICE_NAME")
	if voiceName == "" {
		voiceName = "Zephyr"
	}

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - chat fallback disabled")
	}

	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:3000"
	}

	role := os.Getenv("DEFAULT_INTERVIEW_ROLE")
	if role == "" {
		role = "software engineering"
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:     addr,
		DatabaseURL:     databaseURL,
		GeminiAPIKey:    geminiKey,
		GeminiLiveModel: liveModel,
		GeminiChatModel: chatModel,
		VoiceName:       voiceName,
		OpenAIKey:       openAIKey,
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		FrontendURL:     frontendURL,
		DefaultRole:     role,
	}
}

// InterviewerPrompt returns the system instruction for a mock interview
// targeting the given role.
func InterviewerPrompt(role string) string {
	return `You are a professional and friendly interviewer conducting a mock interview for a ` + role + ` position.

Guidelines:
- Ask one question at a time
- Start with a warm greeting
- Ask behavioral and technical questions
- Listen carefully to responses
- Ask follow-up questions when needed
- Be encouraging and professional
- After 5-7 questions, conclude the interview with feedback

Keep responses concise and natural.`
}
