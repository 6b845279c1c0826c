// Package cli holds the terminal helpers behind ticketctl: environment
// loading, file pickers, prompts and table output.
package cli

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/incident-tickets/internal/chat"
)

// LoadEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is only an error when the
// caller named it explicitly.
func LoadEnv(path string, explicit bool) error {
	err := godotenv.Load(path)
	if err == nil {
		log.Debug().Str("file", path).Msg("Environment loaded")
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return nil
	}
	return err
}

// InitGeminiClient creates a Gemini client from GEMINI_API_KEY.
// Exits fatally when the key is missing or the client cannot be built.
func InitGeminiClient(ctx context.Context) *genai.Client {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal().Msg("No API key configured. Set GEMINI_API_KEY in the environment or the .env file")
	}
	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}
	log.Info().Str("model", chat.GetModelName()).Msg("Gemini client initialized")
	return client
}
