// Package generation provides the application layer for recipe, meal plan,
// and shopping list generation
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/platefull/v1/internal/ports/outbound"
	apperrors "github.com/platefull/v1/pkg/errors"
	"go.uber.org/zap"
)

// Sampling parameters shared by every generation call. The high temperature
// and penalties keep repeated calls from converging on the same suggestions.
const (
	temperature      = 0.9
	presencePenalty  = 0.6
	frequencyPenalty = 0.6
	maxTokens        = 2000
)

// Recipe is the parsed shape of a generated recipe
type Recipe struct {
	Name         string   `json:"name" validate:"required"`
	CookTime     string   `json:"cookTime" validate:"required"`
	Servings     int      `json:"servings" validate:"gt=0"`
	Ingredients  []string `json:"ingredients" validate:"required,min=1"`
	Instructions []string `json:"instructions" validate:"required,min=1"`
}

// DayPlan is one day of a generated weekly meal plan
type DayPlan struct {
	Breakfast string `json:"breakfast"`
	Lunch     string `json:"lunch"`
	Dinner    string `json:"dinner"`
}

// ShoppingCategory is one ordered category of a generated shopping list
type ShoppingCategory struct {
	Category string   `json:"category"`
	Items    []string `json:"items"`
}

// Service issues templated prompts to the text-generation endpoint and
// parses the structured responses
type Service struct {
	chat      outbound.ChatService
	analytics outbound.AnalyticsSink
	model     string
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewService creates a new generation service
func NewService(chat outbound.ChatService, analytics outbound.AnalyticsSink, model string, logger *zap.Logger) *Service {
	return &Service{
		chat:      chat,
		analytics: analytics,
		model:     model,
		validate:  validator.New(),
		logger:    logger.Named("generation-service"),
	}
}

// GenerateRecipe generates a recipe from a list of ingredients. The system
// prompt embeds a millisecond timestamp so the provider does not serve a
// cached completion for a repeated ingredient list.
func (s *Service) GenerateRecipe(ctx context.Context, ingredients []string) (*Recipe, error) {
	joined := strings.Join(ingredients, ", ")

	systemPrompt := fmt.Sprintf(
		`You are a creative chef. Create a recipe using the ingredients provided.
Respond with ONLY a valid JSON object of the form:
{"name": "...", "cookTime": "...", "servings": 2, "ingredients": ["..."], "instructions": ["..."]}
Request id: %d`,
		time.Now().UnixMilli(),
	)
	userPrompt := fmt.Sprintf("Create a recipe using: %s", joined)

	response, err := s.chat.Complete(ctx, s.request(systemPrompt, userPrompt, true))
	if err != nil {
		s.logger.Error("Recipe generation failed", zap.Error(err))
		s.emitError(ctx, "recipe_generation_error", err)
		return nil, err
	}

	var recipe Recipe
	if err := s.parseJSON(response, &recipe); err != nil {
		s.logger.Error("Failed to parse recipe response", zap.Error(err))
		s.emitError(ctx, "recipe_generation_error", err)
		return nil, apperrors.NewSchemaMismatchError("recipe", err)
	}
	if err := s.validate.Struct(&recipe); err != nil {
		s.logger.Error("Recipe response failed schema validation", zap.Error(err))
		s.emitError(ctx, "recipe_generation_error", err)
		return nil, apperrors.NewSchemaMismatchError("recipe", err)
	}

	s.analytics.Emit(ctx, "recipe_generated", map[string]interface{}{
		"ingredient_count":  len(recipe.Ingredients),
		"instruction_count": len(recipe.Instructions),
	})

	return &recipe, nil
}

// GenerateCustomRecipe passes a free-text prompt through and returns the
// raw completion with no parsing
func (s *Service) GenerateCustomRecipe(ctx context.Context, prompt string) (string, error) {
	systemPrompt := "You are a creative chef. Answer the user's recipe request in full."

	response, err := s.chat.Complete(ctx, s.request(systemPrompt, prompt, false))
	if err != nil {
		s.logger.Error("Custom recipe generation failed", zap.Error(err))
		s.emitError(ctx, "custom_recipe_error", err)
		return "", err
	}

	s.analytics.Emit(ctx, "custom_recipe_generated", map[string]interface{}{
		"prompt_length":   len(prompt),
		"response_length": len(response),
	})

	return response, nil
}

// GenerateMealPlan generates 7 days of breakfast/lunch/dinner. Any parse or
// shape failure is replaced with the generic meal plan error.
func (s *Service) GenerateMealPlan(ctx context.Context) ([]DayPlan, error) {
	systemPrompt := `You are a meal planning assistant. Create a 7 day meal plan.
Respond with ONLY a valid JSON object of the form:
{"weeklyPlan": [{"breakfast": "...", "lunch": "...", "dinner": "..."}]}
The weeklyPlan array must contain exactly 7 entries.`
	userPrompt := "Create a varied meal plan for the coming week."

	response, err := s.chat.Complete(ctx, s.request(systemPrompt, userPrompt, true))
	if err != nil {
		s.logger.Error("Meal plan generation failed", zap.Error(err))
		s.emitError(ctx, "meal_plan_error", err)
		return nil, err
	}

	var envelope struct {
		WeeklyPlan []DayPlan `json:"weeklyPlan"`
	}
	if err := s.parseJSON(response, &envelope); err != nil || envelope.WeeklyPlan == nil {
		if err == nil {
			err = fmt.Errorf("weeklyPlan key missing or not a list")
		}
		s.logger.Error("Malformed meal plan response", zap.Error(err))
		s.emitError(ctx, "meal_plan_error", err)
		return nil, apperrors.NewMealPlanError()
	}

	s.analytics.Emit(ctx, "meal_plan_generated", map[string]interface{}{
		"day_count": len(envelope.WeeklyPlan),
	})

	return envelope.WeeklyPlan, nil
}

// GenerateShoppingList generates an ordered, categorized shopping list for
// the given meal names. Any parse or shape failure is replaced with the
// generic shopping list error.
func (s *Service) GenerateShoppingList(ctx context.Context, meals []string) ([]ShoppingCategory, error) {
	systemPrompt := `You are a shopping assistant. Build a consolidated shopping list for the meals provided.
Respond with ONLY a valid JSON object of the form:
{"shoppingList": [{"category": "...", "items": ["..."]}]}
Order categories the way a shopper walks a grocery store.`
	userPrompt := fmt.Sprintf("Meals: %s", strings.Join(meals, ", "))

	response, err := s.chat.Complete(ctx, s.request(systemPrompt, userPrompt, true))
	if err != nil {
		s.logger.Error("Shopping list generation failed", zap.Error(err))
		s.emitError(ctx, "shopping_list_error", err)
		return nil, err
	}

	var envelope struct {
		ShoppingList []ShoppingCategory `json:"shoppingList"`
	}
	if err := s.parseJSON(response, &envelope); err != nil || envelope.ShoppingList == nil {
		if err == nil {
			err = fmt.Errorf("shoppingList key missing or not a list")
		}
		s.logger.Error("Malformed shopping list response", zap.Error(err))
		s.emitError(ctx, "shopping_list_error", err)
		return nil, apperrors.NewShoppingListError()
	}

	s.analytics.Emit(ctx, "shopping_list_generated", map[string]interface{}{
		"meal_count":     len(meals),
		"category_count": len(envelope.ShoppingList),
	})

	return envelope.ShoppingList, nil
}

// request builds a chat request with the fixed model and sampling parameters
func (s *Service) request(systemPrompt, userPrompt string, jsonResponse bool) outbound.ChatRequest {
	return outbound.ChatRequest{
		Model: s.model,
		Messages: []outbound.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:      temperature,
		MaxTokens:        maxTokens,
		PresencePenalty:  presencePenalty,
		FrequencyPenalty: frequencyPenalty,
		JSONResponse:     jsonResponse,
	}
}

// parseJSON extracts and unmarshals the JSON object from a completion.
// Providers sometimes wrap the object in extra text, so parsing starts at
// the first brace and ends at the last.
func (s *Service) parseJSON(response string, out interface{}) error {
	response = strings.TrimSpace(response)

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("no valid JSON found in response")
	}

	if err := json.Unmarshal([]byte(response[start:end+1]), out); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

// emitError reports a failed generation to analytics
func (s *Service) emitError(ctx context.Context, event string, err error) {
	s.analytics.Emit(ctx, event, map[string]interface{}{
		"error": err.Error(),
	})
}
