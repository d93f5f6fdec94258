package enums

import "fmt"

// GenerationOperation names a paid image operation dispatched to the generation backend.
type GenerationOperation string

const (
	GenerationGenerate  GenerationOperation = "generate"
	GenerationVariation GenerationOperation = "variation"
	GenerationAnalyze   GenerationOperation = "analyze"
)

var validGenerationOperations = []GenerationOperation{
	GenerationGenerate,
	GenerationVariation,
	GenerationAnalyze,
}

func (o GenerationOperation) IsValid() bool {
	for _, candidate := range validGenerationOperations {
		if candidate == o {
			return true
		}
	}
	return false
}

func ParseGenerationOperation(value string) (GenerationOperation, error) {
	for _, candidate := range validGenerationOperations {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid generation operation %q", value)
}

// ProducesImage reports whether the operation's output belongs in the gallery.
func (o GenerationOperation) ProducesImage() bool {
	return o == GenerationGenerate || o == GenerationVariation
}
