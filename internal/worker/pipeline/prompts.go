package pipeline

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed prompts/story.md
var defaultStoryPrompt string

//go:embed prompts/image.md
var defaultImagePrompt string

// Prompts holds the fixed instructions sent to the generative models
type Prompts struct {
	Story string
	Image string
}

// LoadPrompts returns the embedded prompts, replacing each one whose override path is set
func LoadPrompts(storyPath, imagePath string) (Prompts, error) {
	p := Prompts{Story: defaultStoryPrompt, Image: defaultImagePrompt}

	if storyPath != "" {
		data, err := os.ReadFile(storyPath)
		if err != nil {
			return p, fmt.Errorf("failed to read story prompt: %w", err)
		}
		p.Story = string(data)
	}

	if imagePath != "" {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return p, fmt.Errorf("failed to read image prompt: %w", err)
		}
		p.Image = string(data)
	}

	return p, nil
}

// ComposeImagePrompt appends the generated story to the image prompt as context
func (p Prompts) ComposeImagePrompt(story string) string {
	return strings.TrimRight(p.Image, "\n") + "\n\nCONTEXT (STORY):\n" + story
}
